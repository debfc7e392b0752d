package store

import "context"

// AllocServerSeq ensures a counter row exists for userID, atomically
// increments it, and returns the new value (§4.3). The insert's
// ON CONFLICT DO NOTHING makes the "ensure a row exists" step safe to run
// unconditionally on every call.
func AllocServerSeq(ctx context.Context, q Querier, userID int64) (int64, error) {
	_, err := q.Exec(ctx, `INSERT INTO server_seq (user_id, next_seq) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return 0, err
	}

	var next int64
	row := q.QueryRow(ctx, `UPDATE server_seq SET next_seq = next_seq + 1
		WHERE user_id = $1 RETURNING next_seq`, userID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}
