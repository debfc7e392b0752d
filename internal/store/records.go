package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"todosync-server/internal/clock"
)

// Row is the shared shape of a committed or staged row (§3: StagedRecord
// is "same shape as SyncRecord minus server_seq"). ServerSeq is 0 for
// staged rows.
type Row struct {
	Type           string
	RecordID       string
	HLC            clock.HLC
	DeletedAtMsUTC *int64
	SchemaVersion  int64
	DekID          string
	PayloadAlgo    string
	Nonce          string
	Ciphertext     string
	ServerSeq      int64
	UpdatedAtMsUTC int64
}

func (r Row) ByteSize() int64 {
	return int64(len(r.Nonce) + len(r.Ciphertext))
}

const recordColumns = `type, record_id, hlc_wall_ms_utc, hlc_counter, hlc_device_id,
	deleted_at_ms_utc, schema_version, dek_id, payload_algo, nonce, ciphertext, server_seq, updated_at_ms_utc`

func scanRow(row pgx.Row) (*Row, error) {
	var r Row
	err := row.Scan(&r.Type, &r.RecordID, &r.HLC.WallTimeMsUTC, &r.HLC.Counter, &r.HLC.DeviceID,
		&r.DeletedAtMsUTC, &r.SchemaVersion, &r.DekID, &r.PayloadAlgo, &r.Nonce, &r.Ciphertext,
		&r.ServerSeq, &r.UpdatedAtMsUTC)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetCommitted looks up a single committed row by its natural key.
func GetCommitted(ctx context.Context, q Querier, userID int64, recordType, recordID string) (*Row, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM records
		WHERE user_id = $1 AND type = $2 AND record_id = $3`, userID, recordType, recordID)
	return scanRow(row)
}

// UpsertCommitted writes (or overwrites) a committed row at the given
// server_seq.
func UpsertCommitted(ctx context.Context, q Querier, userID int64, r Row) error {
	_, err := q.Exec(ctx, `INSERT INTO records
		(user_id, type, record_id, hlc_wall_ms_utc, hlc_counter, hlc_device_id,
		 deleted_at_ms_utc, schema_version, dek_id, payload_algo, nonce, ciphertext, server_seq, updated_at_ms_utc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
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
			server_seq = EXCLUDED.server_seq,
			updated_at_ms_utc = EXCLUDED.updated_at_ms_utc`,
		userID, r.Type, r.RecordID, r.HLC.WallTimeMsUTC, r.HLC.Counter, r.HLC.DeviceID,
		r.DeletedAtMsUTC, r.SchemaVersion, r.DekID, r.PayloadAlgo, r.Nonce, r.Ciphertext,
		r.ServerSeq, r.UpdatedAtMsUTC)
	return err
}

// ListCommittedChunks returns committed chunk rows whose record_id begins
// with attachmentID + ":", used by tombstone compaction.
func ListCommittedChunks(ctx context.Context, q Querier, userID int64, attachmentID string) ([]Row, error) {
	_, pattern := likePrefixPattern(attachmentID)
	rows, err := q.Query(ctx, `SELECT `+recordColumns+` FROM records
		WHERE user_id = $1 AND type = $2 AND record_id LIKE $3 ESCAPE '\' ORDER BY record_id`,
		userID, "todo_attachment_chunk", pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanRowFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRowFromRows(rows pgx.Rows) (*Row, error) {
	var r Row
	err := rows.Scan(&r.Type, &r.RecordID, &r.HLC.WallTimeMsUTC, &r.HLC.Counter, &r.HLC.DeviceID,
		&r.DeletedAtMsUTC, &r.SchemaVersion, &r.DekID, &r.PayloadAlgo, &r.Nonce, &r.Ciphertext,
		&r.ServerSeq, &r.UpdatedAtMsUTC)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteCommittedAttachmentAndChunks deletes the committed meta row and
// every committed chunk row for attachmentID; used by ghost GC.
func DeleteCommittedAttachmentAndChunks(ctx context.Context, q Querier, userID int64, attachmentID string) (int64, error) {
	var total int64
	tag, err := q.Exec(ctx, `DELETE FROM records WHERE user_id = $1 AND type = $2 AND record_id = $3`,
		userID, "todo_attachment", attachmentID)
	if err != nil {
		return 0, err
	}
	total += tag.RowsAffected()

	_, pattern := likePrefixPattern(attachmentID)
	tag, err = q.Exec(ctx, `DELETE FROM records WHERE user_id = $1 AND type = $2 AND record_id LIKE $3 ESCAPE '\'`,
		userID, "todo_attachment_chunk", pattern)
	if err != nil {
		return 0, err
	}
	total += tag.RowsAffected()
	return total, nil
}

// PullPage returns committed rows with server_seq > since, ordered
// ascending, optionally excluding a device's own writes, limited to
// limit rows (§4.2).
func PullPage(ctx context.Context, q Querier, userID, since int64, limit int, excludeDeviceID string) ([]Row, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if excludeDeviceID != "" {
		rows, err = q.Query(ctx, `SELECT `+recordColumns+` FROM records
			WHERE user_id = $1 AND server_seq > $2 AND hlc_device_id <> $3
			ORDER BY server_seq ASC LIMIT $4`, userID, since, excludeDeviceID, limit)
	} else {
		rows, err = q.Query(ctx, `SELECT `+recordColumns+` FROM records
			WHERE user_id = $1 AND server_seq > $2
			ORDER BY server_seq ASC LIMIT $3`, userID, since, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanRowFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MaxServerSeq returns the highest server_seq committed for a user, or 0
// when the user has no committed rows. Used for pull's rollback-detection
// invariant (§4.2, invariant 6).
func MaxServerSeq(ctx context.Context, q Querier, userID int64) (int64, error) {
	var max int64
	row := q.QueryRow(ctx, `SELECT COALESCE(MAX(server_seq), 0) FROM records WHERE user_id = $1`, userID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// RecordCount returns how many committed rows a user has (for the
// max_records_per_user quota check).
func RecordCount(ctx context.Context, q Querier, userID int64) (int64, error) {
	var n int64
	row := q.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE user_id = $1`, userID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasLiveTodo reports whether the user has at least one non-tombstoned
// "todo" record, used to gate ghost GC's fallback mode.
func HasLiveTodo(ctx context.Context, q Querier, userID int64) (bool, error) {
	var exists bool
	row := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM records
		WHERE user_id = $1 AND type = 'todo' AND deleted_at_ms_utc IS NULL)`, userID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// DirectAttachmentMetaIDs returns every committed todo_attachment
// record_id for a user, used by ghost GC's fallback mode.
func DirectAttachmentMetaIDs(ctx context.Context, q Querier, userID int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT record_id FROM records WHERE user_id = $1 AND type = 'todo_attachment'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ChunkPrefixIDs returns the distinct attachment-id prefixes of every
// committed todo_attachment_chunk row, used by ghost GC's fallback mode to
// catch chunks with no surviving meta row. The prefix is everything before
// the *last* colon, matching attachmentIDFor's convention in
// internal/syncsvc/attachment.go.
func ChunkPrefixIDs(ctx context.Context, q Querier, userID int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT DISTINCT regexp_replace(record_id, ':[^:]*$', '') FROM records
		WHERE user_id = $1 AND type = 'todo_attachment_chunk' AND position(':' in record_id) > 0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// likePrefixPattern escapes \, %, and _ in value (it is an opaque client
// string and may contain any of them) and returns the LIKE pattern
// matching "value:" followed by anything.
func likePrefixPattern(value string) (escaped, pattern string) {
	escaped = escapeLikePrefix(value)
	return escaped, escaped + ":%"
}

func escapeLikePrefix(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' || c == '%' || c == '_' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
