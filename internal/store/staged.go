package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const stagedColumns = `type, record_id, hlc_wall_ms_utc, hlc_counter, hlc_device_id,
	deleted_at_ms_utc, schema_version, dek_id, payload_algo, nonce, ciphertext, updated_at_ms_utc`

func scanStagedRow(row pgx.Row) (*Row, error) {
	var r Row
	err := row.Scan(&r.Type, &r.RecordID, &r.HLC.WallTimeMsUTC, &r.HLC.Counter, &r.HLC.DeviceID,
		&r.DeletedAtMsUTC, &r.SchemaVersion, &r.DekID, &r.PayloadAlgo, &r.Nonce, &r.Ciphertext,
		&r.UpdatedAtMsUTC)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanStagedRowFromRows(rows pgx.Rows) (*Row, error) {
	var r Row
	err := rows.Scan(&r.Type, &r.RecordID, &r.HLC.WallTimeMsUTC, &r.HLC.Counter, &r.HLC.DeviceID,
		&r.DeletedAtMsUTC, &r.SchemaVersion, &r.DekID, &r.PayloadAlgo, &r.Nonce, &r.Ciphertext,
		&r.UpdatedAtMsUTC)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetStaged looks up a single staged row by its natural key.
func GetStaged(ctx context.Context, q Querier, userID int64, recordType, recordID string) (*Row, error) {
	row := q.QueryRow(ctx, `SELECT `+stagedColumns+` FROM staged_records
		WHERE user_id = $1 AND type = $2 AND record_id = $3`, userID, recordType, recordID)
	return scanStagedRow(row)
}

// UpsertStaged writes (or overwrites) a staged row.
func UpsertStaged(ctx context.Context, q Querier, userID int64, r Row) error {
	_, err := q.Exec(ctx, `INSERT INTO staged_records
		(user_id, type, record_id, hlc_wall_ms_utc, hlc_counter, hlc_device_id,
		 deleted_at_ms_utc, schema_version, dek_id, payload_algo, nonce, ciphertext, updated_at_ms_utc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (user_id, type, record_id) DO UPDATE SET
			hlc_wall_ms_utc = EXCLUDED.hlc_wall_ms_utc,
			hlc_counter = EXCLUDED.hlc_counter,
			hlc_device_id = EXCLUDED.hlc_device_id,
			deleted_at_ms_utc = EXCLUDED.deleted_at_ms_utc,
			schema_version = EXCLUDED.schema_version,
			dek_id = EXCLUDED.dek_id,
			payload_algo = EXCLUDED.payload_algo,
			nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext,
			updated_at_ms_utc = EXCLUDED.updated_at_ms_utc`,
		userID, r.Type, r.RecordID, r.HLC.WallTimeMsUTC, r.HLC.Counter, r.HLC.DeviceID,
		r.DeletedAtMsUTC, r.SchemaVersion, r.DekID, r.PayloadAlgo, r.Nonce, r.Ciphertext,
		r.UpdatedAtMsUTC)
	return err
}

// DeleteStagedExact deletes a single staged row by its natural key; it
// reports whether a row existed (and its byte size), for callers that need
// to decrement a running total.
func DeleteStagedExact(ctx context.Context, q Querier, userID int64, recordType, recordID string) (existed bool, byteSize int64, err error) {
	row := q.QueryRow(ctx, `DELETE FROM staged_records WHERE user_id = $1 AND type = $2 AND record_id = $3
		RETURNING length(nonce) + length(ciphertext)`, userID, recordType, recordID)
	if err = row.Scan(&byteSize); err != nil {
		if errors.Is(err, ErrNoRows) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, byteSize, nil
}

// DeleteStagedForAttachment deletes the staged meta row (record_id ==
// attachmentID) and every staged chunk row (record_id LIKE
// attachmentID+":%"), returning the total row count and byte size freed.
// Used by the pre-commit tombstone shortcut and by commit_staged_attachment
// / ghost GC cleanup.
func DeleteStagedForAttachment(ctx context.Context, q Querier, userID int64, attachmentID string) (count int64, bytesFreed int64, err error) {
	rows, err := q.Query(ctx, `DELETE FROM staged_records WHERE user_id = $1 AND type = 'todo_attachment' AND record_id = $2
		RETURNING length(nonce) + length(ciphertext)`, userID, attachmentID)
	if err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		var sz int64
		if err := rows.Scan(&sz); err != nil {
			rows.Close()
			return 0, 0, err
		}
		count++
		bytesFreed += sz
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	_, pattern := likePrefixPattern(attachmentID)
	rows, err = q.Query(ctx, `DELETE FROM staged_records WHERE user_id = $1 AND type = 'todo_attachment_chunk'
		AND record_id LIKE $2 ESCAPE '\' RETURNING length(nonce) + length(ciphertext)`, userID, pattern)
	if err != nil {
		return count, bytesFreed, err
	}
	defer rows.Close()
	for rows.Next() {
		var sz int64
		if err := rows.Scan(&sz); err != nil {
			return count, bytesFreed, err
		}
		count++
		bytesFreed += sz
	}
	return count, bytesFreed, rows.Err()
}

// DeleteExpiredStaged deletes every staged row across all users whose
// updated_at_ms_utc is older than the TTL cutoff (§4.8 staged sweeper),
// returning the number of rows deleted and the distinct user ids touched
// so the caller can recompute their stored_b64 totals.
func DeleteExpiredStaged(ctx context.Context, q Querier, cutoffMsUTC int64) (deleted int64, userIDs []int64, err error) {
	rows, err := q.Query(ctx, `DELETE FROM staged_records WHERE updated_at_ms_utc < $1 RETURNING user_id`, cutoffMsUTC)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return deleted, nil, err
		}
		deleted++
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			userIDs = append(userIDs, uid)
		}
	}
	return deleted, userIDs, rows.Err()
}

// ListStagedForAttachment returns the staged meta row (if present) and all
// staged chunk rows for attachmentID, unsorted; commit_staged_attachment
// applies the meta-before-chunks-by-index ordering itself.
func ListStagedForAttachment(ctx context.Context, q Querier, userID int64, attachmentID string) ([]Row, error) {
	_, pattern := likePrefixPattern(attachmentID)
	rows, err := q.Query(ctx, `SELECT `+stagedColumns+` FROM staged_records
		WHERE user_id = $1 AND ((type = 'todo_attachment' AND record_id = $2)
			OR (type = 'todo_attachment_chunk' AND record_id LIKE $3 ESCAPE '\'))`,
		userID, attachmentID, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanStagedRowFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
