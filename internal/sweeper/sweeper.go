// Package sweeper runs the two periodic background loops named in §4.8:
// expiring old staged rows, and sweeping referenced-mode ghost
// attachments, following the ticker-plus-ctx.Done() loop shape the
// teacher's internal/server.Server.metricsLoop uses.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"todosync-server/internal/clock"
	"todosync-server/internal/config"
	"todosync-server/internal/ghostgc"
	"todosync-server/internal/metrics"
	"todosync-server/internal/store"
)

// Sweeper owns both background loops. A zero-or-negative interval for a
// given loop disables it entirely; the staged loop is also disabled by a
// zero-or-negative TTL (§4.8).
type Sweeper struct {
	store   *store.Store
	cfg     config.SweeperConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func New(st *store.Store, cfg config.SweeperConfig, logger zerolog.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, logger: logger.With().Str("component", "sweeper").Logger(), metrics: m}
}

// Run blocks, driving both loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	var wait sync.WaitGroup
	wait.Add(2)
	go func() {
		defer wait.Done()
		s.stagedLoop(ctx)
	}()
	go func() {
		defer wait.Done()
		s.ghostGCLoop(ctx)
	}()
	wait.Wait()
}

func (s *Sweeper) stagedLoop(ctx context.Context) {
	if s.cfg.StagedTTLMs <= 0 || s.cfg.StagedGCInterval <= 0 {
		s.logger.Info().Msg("staged sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.StagedGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepExpiredStaged(ctx); err != nil {
				s.logger.Error().Err(err).Msg("staged sweep failed")
			}
		}
	}
}

func (s *Sweeper) sweepExpiredStaged(ctx context.Context) error {
	cutoff := clock.NowMsUTC() - s.cfg.StagedTTLMs
	deleted, userIDs, err := store.DeleteExpiredStaged(ctx, s.store.Pool, cutoff)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return nil
	}
	for _, userID := range userIDs {
		if _, err := store.RecomputeStoredB64(ctx, s.store.Pool, userID); err != nil {
			return err
		}
	}
	if s.metrics != nil {
		s.metrics.RecordStagedSweepDeleted(deleted)
	}
	s.logger.Info().Int64("deleted", deleted).Int("users", len(userIDs)).Msg("staged sweep complete")
	return nil
}

func (s *Sweeper) ghostGCLoop(ctx context.Context) {
	if s.cfg.GhostGCInterval <= 0 {
		s.logger.Info().Msg("ghost gc sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.GhostGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepGhostAttachments(ctx); err != nil {
				s.logger.Error().Err(err).Msg("ghost gc sweep failed")
			}
		}
	}
}

func (s *Sweeper) sweepGhostAttachments(ctx context.Context) error {
	stats, err := ghostgc.RunBatch(ctx, s.store, s.cfg.GhostGCMinRefAgeMs, s.cfg.GhostGCBatchUsers)
	if err != nil {
		return err
	}
	var deletedAttachments, deletedRecords, reclaimedBytes int64
	for _, st := range stats {
		deletedAttachments += st.DeletedAttachments
		deletedRecords += st.DeletedRecords
		if st.StoredBefore > st.StoredAfter {
			reclaimedBytes += st.StoredBefore - st.StoredAfter
		}
	}
	if s.metrics != nil {
		s.metrics.RecordGhostGCRun(deletedAttachments, reclaimedBytes)
	}
	if deletedAttachments > 0 {
		s.logger.Info().
			Int("usersSwept", len(stats)).
			Int64("deletedAttachments", deletedAttachments).
			Int64("deletedRecords", deletedRecords).
			Msg("ghost gc sweep complete")
	}
	return nil
}
