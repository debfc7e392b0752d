package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// User mirrors the users table (§3). Nullable columns are pointers.
type User struct {
	ID                         int64
	OAuthProvider              string
	OAuthSub                   string
	CreatedAtMsUTC             int64
	BaseStorageB64             *int64
	BaseOutboundBytes          *int64
	SubscriptionPlanID         *string
	SubscriptionExpiresAtMsUTC *int64
	BannedAtMsUTC              *int64
	StoredB64                  int64
	APIOutboundBytes           int64
	APIOutboundMonthUTC        int32
}

const userColumns = `id, oauth_provider, oauth_sub, created_at_ms_utc, base_storage_b64,
	base_outbound_bytes, subscription_plan_id, subscription_expires_at_ms_utc,
	banned_at_ms_utc, stored_b64, api_outbound_bytes, api_outbound_month_utc`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OAuthProvider, &u.OAuthSub, &u.CreatedAtMsUTC, &u.BaseStorageB64,
		&u.BaseOutboundBytes, &u.SubscriptionPlanID, &u.SubscriptionExpiresAtMsUTC,
		&u.BannedAtMsUTC, &u.StoredB64, &u.APIOutboundBytes, &u.APIOutboundMonthUTC)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser looks up a user by (oauth_provider, oauth_sub), inserting a
// new row on first sight.
func EnsureUser(ctx context.Context, q Querier, provider, sub string, nowMsUTC int64) (*User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND oauth_sub = $2`,
		provider, sub)
	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	row = q.QueryRow(ctx, `INSERT INTO users (oauth_provider, oauth_sub, created_at_ms_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (oauth_provider, oauth_sub) DO UPDATE SET oauth_provider = EXCLUDED.oauth_provider
		RETURNING `+userColumns, provider, sub, nowMsUTC)
	return scanUser(row)
}

// GetUserForUpdate reads a user row with FOR UPDATE, locking it for the
// rest of the caller's transaction. Cdkey activation uses it; push and
// pull read the user row with GetUser.
func GetUserForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*User, error) {
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	return scanUser(row)
}

func GetUser(ctx context.Context, q Querier, userID int64) (*User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// ClearExpiredSubscriptionIfNeeded nulls subscription_plan_id and
// subscription_expires_at_ms_utc in place when the subscription has
// lapsed, idempotently (§4.6).
func ClearExpiredSubscriptionIfNeeded(ctx context.Context, q Querier, userID, nowMsUTC int64) error {
	_, err := q.Exec(ctx, `UPDATE users SET subscription_plan_id = NULL, subscription_expires_at_ms_utc = NULL
		WHERE id = $1 AND subscription_plan_id IS NOT NULL
		AND (subscription_expires_at_ms_utc IS NULL OR subscription_expires_at_ms_utc <= $2)`,
		userID, nowMsUTC)
	return err
}

// RolloverMonthlyOutboundIfNeeded resets api_outbound_bytes to 0 and
// updates api_outbound_month_utc in a single conditional UPDATE whenever
// the stored month differs from the current one (§4.7).
func RolloverMonthlyOutboundIfNeeded(ctx context.Context, q Querier, userID int64, currentYearMonth int) error {
	_, err := q.Exec(ctx, `UPDATE users SET api_outbound_bytes = 0, api_outbound_month_utc = $2
		WHERE id = $1 AND api_outbound_month_utc <> $2`, userID, currentYearMonth)
	return err
}

// AddOutboundBytesUnconditional increments the monthly outbound counter
// with no limit check, used when the user has no effective outbound
// limit.
func AddOutboundBytesUnconditional(ctx context.Context, q Querier, userID, delta int64) error {
	_, err := q.Exec(ctx, `UPDATE users SET api_outbound_bytes = api_outbound_bytes + $2 WHERE id = $1`,
		userID, delta)
	return err
}

// AddOutboundBytesCAS performs the conditional (CAS-style) increment
// described in §4.2/§4.7: it only applies if current+delta <= limit, and
// reports whether it did, so the caller can convert a failed CAS into
// quota_exceeded without ever overflowing past the limit.
func AddOutboundBytesCAS(ctx context.Context, q Querier, userID, delta, limit int64) (bool, error) {
	tag, err := q.Exec(ctx, `UPDATE users SET api_outbound_bytes = api_outbound_bytes + $2
		WHERE id = $1 AND api_outbound_bytes + $2 <= $3`, userID, delta, limit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetStoredB64 overwrites the user's running storage total, used after a
// recompute (compaction, ghost GC, sweeper).
func SetStoredB64(ctx context.Context, q Querier, userID, storedB64 int64) error {
	_, err := q.Exec(ctx, `UPDATE users SET stored_b64 = $2 WHERE id = $1`, userID, storedB64)
	return err
}

// RecomputeStoredB64 recomputes and persists stored_b64 as the sum of
// len(nonce)+len(ciphertext) across committed and staged rows for the
// user, per invariant 8.
func RecomputeStoredB64(ctx context.Context, q Querier, userID int64) (int64, error) {
	var total int64
	row := q.QueryRow(ctx, `SELECT
		COALESCE((SELECT SUM(length(nonce) + length(ciphertext)) FROM records WHERE user_id = $1), 0) +
		COALESCE((SELECT SUM(length(nonce) + length(ciphertext)) FROM staged_records WHERE user_id = $1), 0)`,
		userID)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	if err := SetStoredB64(ctx, q, userID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// SetBanned is a maintenance helper for tests and the (out-of-scope) admin
// console contract.
func SetBanned(ctx context.Context, q Querier, userID int64, bannedAtMsUTC *int64) error {
	_, err := q.Exec(ctx, `UPDATE users SET banned_at_ms_utc = $2 WHERE id = $1`, userID, bannedAtMsUTC)
	return err
}

// ActivateSubscription sets a user's plan and expiry, used by cdkey
// redemption (§3A).
func ActivateSubscription(ctx context.Context, q Querier, userID int64, planID string, expiresAtMsUTC int64) error {
	_, err := q.Exec(ctx, `UPDATE users SET subscription_plan_id = $2, subscription_expires_at_ms_utc = $3
		WHERE id = $1`, userID, planID, expiresAtMsUTC)
	return err
}

// DeleteUser removes a user and (via ON DELETE CASCADE) all of their
// records, staged rows, counters, refs, and key bundle (§3A account
// deletion).
func DeleteUser(ctx context.Context, q Querier, userID int64) error {
	_, err := q.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}
