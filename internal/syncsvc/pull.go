package syncsvc

import (
	"context"
	"encoding/json"
	"time"

	"todosync-server/internal/apperr"
	"todosync-server/internal/clock"
	"todosync-server/internal/metrics"
	"todosync-server/internal/model"
	"todosync-server/internal/quota"
	"todosync-server/internal/store"
)

const defaultPullLimit = 500

// Pull implements §4.2. Unlike Push, a pull runs no multi-statement
// transaction of its own: the page read and the monthly rollover/outbound
// accounting are each a single statement against the pool.
func (s *Service) Pull(ctx context.Context, userID int64, since int64, limit int, excludeDeviceID string) (model.PullResponse, *apperr.Error, error) {
	start := time.Now()
	if since < 0 {
		return model.PullResponse{}, apperr.Validation("invalid_since", "since must be non-negative"), nil
	}
	if limit <= 0 || limit > defaultPullLimit {
		limit = defaultPullLimit
	}

	now := clock.NowMsUTC()
	if err := store.RolloverMonthlyOutboundIfNeeded(ctx, s.Store.Pool, userID, clock.YearMonthUTC(now)); err != nil {
		return model.PullResponse{}, nil, err
	}

	u, eff, err := quota.EvaluateForUser(ctx, s.Store.Pool, s.Quota, userID, now)
	if err != nil {
		return model.PullResponse{}, nil, err
	}
	if u.BannedAtMsUTC != nil {
		return model.PullResponse{}, apperr.Banned(), nil
	}
	if eff.OverOutbound(u.APIOutboundBytes) {
		return model.PullResponse{}, apperr.QuotaExceeded(), nil
	}

	rows, err := store.PullPage(ctx, s.Store.Pool, userID, since, limit, excludeDeviceID)
	if err != nil {
		return model.PullResponse{}, nil, err
	}

	resp := model.PullResponse{Records: make([]model.SyncEnvelope, 0, len(rows))}
	var maxSeq int64
	for _, r := range rows {
		resp.Records = append(resp.Records, model.SyncEnvelope{
			Type: r.Type, RecordID: r.RecordID, HLC: r.HLC, DeletedAtMsUTC: r.DeletedAtMsUTC,
			SchemaVersion: r.SchemaVersion, DekID: r.DekID, PayloadAlgo: r.PayloadAlgo,
			Nonce: r.Nonce, Ciphertext: r.Ciphertext,
		})
		if r.ServerSeq > maxSeq {
			maxSeq = r.ServerSeq
		}
	}

	if len(rows) > 0 {
		resp.NextSince = maxSeq
	} else {
		// Rollback-detection invariant (§4.2, invariant 6): an empty page
		// still reports the user's true high-water mark so a client whose
		// local cursor is ahead of the server's (e.g. after a server
		// restore from backup) can detect the mismatch instead of silently
		// treating "no new records" as "fully caught up".
		highWater, err := store.MaxServerSeq(ctx, s.Store.Pool, userID)
		if err != nil {
			return model.PullResponse{}, nil, err
		}
		resp.NextSince = highWater
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return model.PullResponse{}, nil, err
	}
	applied, err := addOutboundBytes(ctx, s.Store.Pool, userID, int64(len(body)), eff)
	if err != nil {
		return model.PullResponse{}, nil, err
	}
	if !applied {
		return model.PullResponse{}, apperr.QuotaExceeded(), nil
	}

	s.observe(func(m *metrics.Metrics) {
		m.ObservePull(time.Since(start), len(resp.Records))
		m.AddOutboundBytes(int64(len(body)))
	})

	return resp, nil, nil
}
