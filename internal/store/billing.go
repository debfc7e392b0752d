package store

import (
	"context"
	"errors"
)

// Cdkey mirrors the cdkeys table (§3A).
type Cdkey struct {
	Code         string
	PlanID       string
	UsedByUserID *int64
	UsedAtMsUTC  *int64
}

// GetCdkey looks up an activation code, FOR UPDATE so redemption is
// serialized against concurrent use of the same code.
func GetCdkey(ctx context.Context, tx Querier, code string) (*Cdkey, error) {
	row := tx.QueryRow(ctx, `SELECT code, plan_id, used_by_user_id, used_at_ms_utc
		FROM cdkeys WHERE code = $1 FOR UPDATE`, code)
	var c Cdkey
	if err := row.Scan(&c.Code, &c.PlanID, &c.UsedByUserID, &c.UsedAtMsUTC); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// RedeemCdkey marks a code as used by userID.
func RedeemCdkey(ctx context.Context, tx Querier, code string, userID, nowMsUTC int64) error {
	_, err := tx.Exec(ctx, `UPDATE cdkeys SET used_by_user_id = $2, used_at_ms_utc = $3 WHERE code = $1`,
		code, userID, nowMsUTC)
	return err
}
