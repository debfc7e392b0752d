package syncsvc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"todosync-server/internal/apperr"
	"todosync-server/internal/clock"
	"todosync-server/internal/metrics"
	"todosync-server/internal/model"
	"todosync-server/internal/quota"
	"todosync-server/internal/store"
)

// pendingCommit is a deferred todo_attachment_commit marker, processed
// after every other envelope in the batch (§4.1 "Commit markers").
type pendingCommit struct {
	attachmentID   string
	deletedAtMsUTC *int64
}

// errOutboundQuotaExceeded forces the enclosing transaction to roll back
// when the final outbound-byte CAS fails: §4.2/§4.7 converts the whole
// request to quota_exceeded, so the batch's record mutations must not
// persist alongside a rejected response.
var errOutboundQuotaExceeded = errors.New("outbound quota exceeded")

// Push executes the entire push batch in one transaction (§4.1). The
// returned *apperr.Error is a batch-level rejection (400/402/403); the
// returned model.PushResponse carries per-envelope outcomes for an
// otherwise-accepted batch.
func (s *Service) Push(ctx context.Context, userID int64, req model.PushRequest) (model.PushResponse, *apperr.Error, error) {
	if len(req.Records) > s.Quotas.MaxPushRecords {
		return model.PushResponse{}, apperr.Validation("batch_too_large", "push batch exceeds configured maximum"), nil
	}

	var (
		resp       model.PushResponse
		changed    int
		didCompact bool
	)

	start := time.Now()
	appErr, txErr := s.runPushTx(ctx, userID, req, &resp, &changed, &didCompact)
	s.observe(func(m *metrics.Metrics) { m.ObservePush(time.Since(start)) })
	if txErr != nil {
		return model.PushResponse{}, nil, txErr
	}
	if appErr != nil {
		if appErr.Kind == apperr.KindPaymentRequired {
			s.observe(func(m *metrics.Metrics) { m.RecordQuotaRejection(appErr.Code) })
		}
		return model.PushResponse{}, appErr, nil
	}

	s.observe(func(m *metrics.Metrics) {
		for _, a := range resp.Accepted {
			m.RecordEnvelopeOutcome("accepted")
			if a.Type == model.TypeTodoAttachmentCommit {
				m.RecordAttachmentCommitted()
			} else if model.IsStageable(a.Type) {
				m.RecordAttachmentStaged()
			}
		}
		for _, rj := range resp.Rejected {
			m.RecordEnvelopeOutcome(rj.Reason)
			if rj.Reason == model.ReasonQuotaExceeded {
				m.RecordQuotaRejection(rj.Reason)
			}
		}
	})

	s.Notifier.PublishUpdated(userID, changed)
	return resp, nil, nil
}

func (s *Service) runPushTx(ctx context.Context, userID int64, req model.PushRequest, resp *model.PushResponse, changed *int, didCompact *bool) (*apperr.Error, error) {
	var appErr *apperr.Error

	txErr := s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := clock.NowMsUTC()

		if err := store.RolloverMonthlyOutboundIfNeeded(ctx, tx, userID, clock.YearMonthUTC(now)); err != nil {
			return err
		}

		u, eff, err := quota.EvaluateForUser(ctx, tx, s.Quota, userID, now)
		if err != nil {
			return err
		}
		if u.BannedAtMsUTC != nil {
			appErr = apperr.Banned()
			return nil
		}
		if eff.OverOutbound(u.APIOutboundBytes) {
			appErr = apperr.QuotaExceeded()
			return nil
		}

		totalB64 := u.StoredB64
		recordCount, err := store.RecordCount(ctx, tx, userID)
		if err != nil {
			return err
		}

		var commits []pendingCommit

		for _, env := range req.Records {
			if env.Type == model.TypeTodoAttachmentCommit {
				commits = append(commits, pendingCommit{attachmentID: env.RecordID, deletedAtMsUTC: env.DeletedAtMsUTC})
				continue
			}

			outcome, err := s.applyEnvelope(ctx, tx, userID, env, eff, &totalB64, &recordCount, now)
			if err != nil {
				return err
			}
			if outcome.accepted {
				resp.Accepted = append(resp.Accepted, model.AcceptedRecord{
					Type: env.Type, RecordID: env.RecordID, ServerSeq: outcome.serverSeq,
				})
				*changed++
			} else {
				resp.Rejected = append(resp.Rejected, model.RejectedRecord{
					Type: env.Type, RecordID: env.RecordID, Reason: outcome.reason,
				})
			}
			if outcome.compacted {
				*didCompact = true
			}
		}

		for _, c := range commits {
			accepted, reason, compacted, err := s.applyCommitMarker(ctx, tx, userID, c, now)
			if err != nil {
				return err
			}
			if accepted {
				resp.Accepted = append(resp.Accepted, model.AcceptedRecord{
					Type: model.TypeTodoAttachmentCommit, RecordID: c.attachmentID, ServerSeq: 0,
				})
				*changed++
			} else {
				resp.Rejected = append(resp.Rejected, model.RejectedRecord{
					Type: model.TypeTodoAttachmentCommit, RecordID: c.attachmentID, Reason: reason,
				})
			}
			if compacted {
				*didCompact = true
			}
		}

		if *didCompact {
			if _, err := store.RecomputeStoredB64(ctx, tx, userID); err != nil {
				return err
			}
		} else if totalB64 != u.StoredB64 {
			if err := store.SetStoredB64(ctx, tx, userID, totalB64); err != nil {
				return err
			}
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		applied, err := addOutboundBytes(ctx, tx, userID, int64(len(body)), eff)
		if err != nil {
			return err
		}
		if !applied {
			return errOutboundQuotaExceeded
		}
		s.observe(func(m *metrics.Metrics) { m.AddOutboundBytes(int64(len(body))) })

		return nil
	})

	if errors.Is(txErr, errOutboundQuotaExceeded) {
		return apperr.QuotaExceeded(), nil
	}
	return appErr, txErr
}

// addOutboundBytes increments the monthly outbound counter, reporting
// whether the increment applied. A false, nil-error result means the CAS
// in §4.2/§4.7 failed because the increment would exceed the user's
// effective outbound allowance; the caller converts that into
// quota_exceeded rather than silently skipping the accounting.
func addOutboundBytes(ctx context.Context, q store.Querier, userID, delta int64, eff quota.Effective) (bool, error) {
	if eff.AllowedOutboundBytes == nil {
		if err := store.AddOutboundBytesUnconditional(ctx, q, userID, delta); err != nil {
			return false, err
		}
		return true, nil
	}
	return store.AddOutboundBytesCAS(ctx, q, userID, delta, *eff.AllowedOutboundBytes)
}

type envelopeOutcome struct {
	accepted  bool
	reason    string
	serverSeq int64
	compacted bool
}

// applyEnvelope runs the per-envelope algorithm of §4.1 steps 1-7 for a
// single regular or stageable envelope.
func (s *Service) applyEnvelope(ctx context.Context, tx pgx.Tx, userID int64, env model.SyncEnvelope, eff quota.Effective, totalB64, recordCount *int64, now int64) (envelopeOutcome, error) {
	if int64(len(env.Nonce)) > s.Quotas.BodyLimitBytes || int64(len(env.Ciphertext)) > s.Quotas.BodyLimitBytes {
		return envelopeOutcome{reason: model.ReasonRecordTooLarge}, nil
	}

	stageable := model.IsStageable(env.Type)
	tombstoned := env.DeletedAtMsUTC != nil

	// Step 1: guard against resurrected attachments.
	if stageable && !tombstoned {
		attachmentID := attachmentIDFor(env.Type, env.RecordID)
		meta, err := store.GetCommitted(ctx, tx, userID, model.TypeTodoAttachment, attachmentID)
		if err != nil && !errors.Is(err, store.ErrNoRows) {
			return envelopeOutcome{}, err
		}
		if meta != nil && meta.DeletedAtMsUTC != nil {
			return envelopeOutcome{reason: model.ReasonAttachmentDeleted}, nil
		}
	}

	// Step 2: locate the prior version (committed first, then staged).
	committed, err := store.GetCommitted(ctx, tx, userID, env.Type, env.RecordID)
	if err != nil && !errors.Is(err, store.ErrNoRows) {
		return envelopeOutcome{}, err
	}
	var staged *store.Row
	if committed == nil && stageable {
		staged, err = store.GetStaged(ctx, tx, userID, env.Type, env.RecordID)
		if err != nil && !errors.Is(err, store.ErrNoRows) {
			return envelopeOutcome{}, err
		}
	}
	var prior *store.Row
	if committed != nil {
		prior = committed
	} else {
		prior = staged
	}

	// Step 3: HLC gate.
	if prior != nil && !clock.IsNewer(env.HLC, prior.HLC) {
		return envelopeOutcome{reason: model.ReasonOlderHLC}, nil
	}

	// Step 4: pre-commit tombstone shortcut.
	if stageable && tombstoned && committed == nil {
		var freed int64
		if env.Type == model.TypeTodoAttachment {
			_, freed, err = store.DeleteStagedForAttachment(ctx, tx, userID, env.RecordID)
		} else {
			_, freed, err = store.DeleteStagedExact(ctx, tx, userID, env.Type, env.RecordID)
		}
		if err != nil {
			return envelopeOutcome{}, err
		}
		*totalB64 -= freed
		return envelopeOutcome{accepted: true, serverSeq: 0}, nil
	}

	// Step 5: quota check (pre-accept).
	existingSize := int64(0)
	updating := false
	if prior != nil {
		existingSize = prior.ByteSize()
		updating = true
	}
	newSize := env.ByteSize()
	delta := newSize - existingSize
	hypotheticalTotal := *totalB64 + delta

	// A stageable envelope with no committed counterpart lands in
	// staged_records, never in records, so it never moves the committed
	// row count the max_records_per_user quota bounds.
	willStage := stageable && committed == nil
	if !willStage {
		hypotheticalCount := *recordCount
		if !updating {
			hypotheticalCount++
		}
		if s.Quotas.MaxRecordsPerUser > 0 && hypotheticalCount > s.Quotas.MaxRecordsPerUser {
			return envelopeOutcome{reason: model.ReasonQuotaExceeded}, nil
		}
	}
	if eff.AllowedStorageB64 != nil && hypotheticalTotal > *eff.AllowedStorageB64 && delta > 0 {
		return envelopeOutcome{reason: model.ReasonQuotaExceeded}, nil
	}

	row := store.Row{
		Type: env.Type, RecordID: env.RecordID, HLC: env.HLC, DeletedAtMsUTC: env.DeletedAtMsUTC,
		SchemaVersion: env.SchemaVersion, DekID: env.DekID, PayloadAlgo: env.PayloadAlgo,
		Nonce: env.Nonce, Ciphertext: env.Ciphertext, UpdatedAtMsUTC: now,
	}

	// Step 6: route.
	if stageable && committed == nil {
		if err := store.UpsertStaged(ctx, tx, userID, row); err != nil {
			return envelopeOutcome{}, err
		}
		*totalB64 = hypotheticalTotal
		return envelopeOutcome{accepted: true, serverSeq: 0}, nil
	}

	seq, err := store.AllocServerSeq(ctx, tx, userID)
	if err != nil {
		return envelopeOutcome{}, err
	}
	row.ServerSeq = seq
	if err := store.UpsertCommitted(ctx, tx, userID, row); err != nil {
		return envelopeOutcome{}, err
	}
	*totalB64 = hypotheticalTotal
	if !updating {
		*recordCount++
	}

	compacted := false
	// Step 7: attachment-delete compaction, only for a *committed*
	// tombstoned todo_attachment (the staged shortcut in step 4 already
	// handled the pre-commit case).
	if env.Type == model.TypeTodoAttachment && tombstoned {
		if _, _, err := store.DeleteStagedForAttachment(ctx, tx, userID, env.RecordID); err != nil {
			return envelopeOutcome{}, err
		}
		// The DeleteStagedForAttachment call above can free staged bytes
		// this function's own totalB64 bookkeeping never accounted for, so
		// the caller always recomputes stored_b64 from scratch once any
		// envelope reaches this branch, regardless of whether any
		// committed chunk actually needed rewriting as a tombstone.
		if _, err := compactCommittedAttachmentChunks(ctx, tx, userID, env.RecordID, *env.DeletedAtMsUTC); err != nil {
			return envelopeOutcome{}, err
		}
		compacted = true
	}

	return envelopeOutcome{accepted: true, serverSeq: seq, compacted: compacted}, nil
}

// applyCommitMarker processes a deferred todo_attachment_commit envelope
// after the rest of the batch (§4.1 "Commit markers").
func (s *Service) applyCommitMarker(ctx context.Context, tx pgx.Tx, userID int64, c pendingCommit, now int64) (accepted bool, reason string, compacted bool, err error) {
	if c.deletedAtMsUTC != nil {
		return true, "", false, nil
	}

	meta, err := store.GetCommitted(ctx, tx, userID, model.TypeTodoAttachment, c.attachmentID)
	if err != nil && !errors.Is(err, store.ErrNoRows) {
		return false, "", false, err
	}
	if meta != nil && meta.DeletedAtMsUTC != nil {
		return false, model.ReasonAttachmentDeleted, false, nil
	}

	if meta == nil {
		stagedMeta, err := store.GetStaged(ctx, tx, userID, model.TypeTodoAttachment, c.attachmentID)
		if err != nil && !errors.Is(err, store.ErrNoRows) {
			return false, "", false, err
		}
		if stagedMeta == nil {
			return false, model.ReasonMissingAttachmentMeta, false, nil
		}
	}

	if err := commitStagedAttachment(ctx, tx, userID, c.attachmentID, now); err != nil {
		return false, "", false, err
	}
	return true, "", false, nil
}
