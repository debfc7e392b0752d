package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// UpsertAttachmentRef upserts a single (user_id, attachment_id) -> todo_id
// mapping, bumping updated_at_ms_utc.
func UpsertAttachmentRef(ctx context.Context, q Querier, userID int64, attachmentID, todoID string, nowMsUTC int64) error {
	_, err := q.Exec(ctx, `INSERT INTO attachment_refs (user_id, attachment_id, todo_id, updated_at_ms_utc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, attachment_id) DO UPDATE SET
			todo_id = EXCLUDED.todo_id, updated_at_ms_utc = EXCLUDED.updated_at_ms_utc`,
		userID, attachmentID, todoID, nowMsUTC)
	return err
}

// DeleteAttachmentRef removes the ref row for an attachment, ignoring
// whether it existed.
func DeleteAttachmentRef(ctx context.Context, q Querier, userID int64, attachmentID string) error {
	_, err := q.Exec(ctx, `DELETE FROM attachment_refs WHERE user_id = $1 AND attachment_id = $2`,
		userID, attachmentID)
	return err
}

// OrphanAttachmentIDsReferenced returns attachment ids from a user's
// attachment_refs whose referenced todo_id no longer has a live "todo"
// record, optionally excluding refs updated within minRefAgeMs of now
// (§4.5 referenced mode).
func OrphanAttachmentIDsReferenced(ctx context.Context, q Querier, userID, nowMsUTC, minRefAgeMs int64) ([]string, error) {
	if minRefAgeMs > 0 {
		cutoff := nowMsUTC - minRefAgeMs
		rows, err := q.Query(ctx, `SELECT ar.attachment_id FROM attachment_refs ar
			WHERE ar.user_id = $1 AND ar.updated_at_ms_utc <= $2
			AND NOT EXISTS (
				SELECT 1 FROM records t
				WHERE t.user_id = ar.user_id AND t.type = 'todo' AND t.record_id = ar.todo_id
				AND t.deleted_at_ms_utc IS NULL)`, userID, cutoff)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanStrings(rows)
	}

	rows, err := q.Query(ctx, `SELECT ar.attachment_id FROM attachment_refs ar
		WHERE ar.user_id = $1
		AND NOT EXISTS (
			SELECT 1 FROM records t
			WHERE t.user_id = ar.user_id AND t.type = 'todo' AND t.record_id = ar.todo_id
			AND t.deleted_at_ms_utc IS NULL)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// SelectUsersWithOrphanRefs returns a bounded set of candidate user ids
// that have at least one orphaned attachment_refs row, for batched
// sweeper-driven ghost GC. maxUsers is clamped to [1, 10000].
func SelectUsersWithOrphanRefs(ctx context.Context, q Querier, nowMsUTC, minRefAgeMs, maxUsers int64) ([]int64, error) {
	if maxUsers < 1 {
		maxUsers = 1
	}
	if maxUsers > 10000 {
		maxUsers = 10000
	}

	var (
		rows pgx.Rows
		err  error
	)
	if minRefAgeMs > 0 {
		cutoff := nowMsUTC - minRefAgeMs
		rows, err = q.Query(ctx, `SELECT DISTINCT ar.user_id FROM attachment_refs ar
			WHERE ar.updated_at_ms_utc <= $1
			AND NOT EXISTS (
				SELECT 1 FROM records t
				WHERE t.user_id = ar.user_id AND t.type = 'todo' AND t.record_id = ar.todo_id
				AND t.deleted_at_ms_utc IS NULL)
			LIMIT $2`, cutoff, maxUsers)
	} else {
		rows, err = q.Query(ctx, `SELECT DISTINCT ar.user_id FROM attachment_refs ar
			WHERE NOT EXISTS (
				SELECT 1 FROM records t
				WHERE t.user_id = ar.user_id AND t.type = 'todo' AND t.record_id = ar.todo_id
				AND t.deleted_at_ms_utc IS NULL)
			LIMIT $1`, maxUsers)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
