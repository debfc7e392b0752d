package store

import (
	"context"
	"errors"
)

// KeyBundleRow mirrors the key_bundles table.
type KeyBundleRow struct {
	BundleVersion  int64
	BundleJSON     string
	UpdatedAtMsUTC int64
}

// GetKeyBundle returns nil, nil when the user has no bundle yet.
func GetKeyBundle(ctx context.Context, q Querier, userID int64) (*KeyBundleRow, error) {
	row := q.QueryRow(ctx, `SELECT bundle_version, bundle_json, updated_at_ms_utc
		FROM key_bundles WHERE user_id = $1`, userID)
	var r KeyBundleRow
	err := row.Scan(&r.BundleVersion, &r.BundleJSON, &r.UpdatedAtMsUTC)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// PutKeyBundle performs the CAS-versioned write described in §4.9: it
// must be called with the current version already validated by the
// caller (current = 0 if absent), and writes newVersion = current + 1.
func PutKeyBundle(ctx context.Context, q Querier, userID, newVersion int64, bundleJSON string, nowMsUTC int64) error {
	_, err := q.Exec(ctx, `INSERT INTO key_bundles (user_id, bundle_version, bundle_json, updated_at_ms_utc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			bundle_version = EXCLUDED.bundle_version,
			bundle_json = EXCLUDED.bundle_json,
			updated_at_ms_utc = EXCLUDED.updated_at_ms_utc`,
		userID, newVersion, bundleJSON, nowMsUTC)
	return err
}
