package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"

	"todosync-server/internal/apperr"
	"todosync-server/internal/auth"
	"todosync-server/internal/clock"
	"todosync-server/internal/ghostgc"
	"todosync-server/internal/model"
	"todosync-server/internal/quota"
	"todosync-server/internal/store"
)

// maxAttachmentRefsPerRequest bounds a single upsert call (§4.4).
const maxAttachmentRefsPerRequest = 5000

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, appErr *apperr.Error) {
	var body errorBody
	body.Error.Code = appErr.Code
	body.Error.Message = appErr.Message
	writeJSON(w, appErr.Status(), body)
}

func currentUserID(r *http.Request) (int64, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var req model.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid_body", "malformed push request body"))
		return
	}

	resp, appErr, err := s.Sync.Push(r.Context(), userID, req)
	if err != nil {
		s.Logger.Error().Err(err).Msg("push failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	excludeDeviceID := r.URL.Query().Get("excludeDeviceId")

	resp, appErr, err := s.Sync.Pull(r.Context(), userID, since, limit, excludeDeviceID)
	if err != nil {
		s.Logger.Error().Err(err).Msg("pull failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetKeyBundle(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	row, err := store.GetKeyBundle(r.Context(), s.Store.Pool, userID)
	if err != nil {
		s.Logger.Error().Err(err).Msg("get key bundle failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	if row == nil {
		writeError(w, apperr.NotFound("no_key_bundle", "no key bundle stored for this user"))
		return
	}

	var data map[string]any
	_ = json.Unmarshal([]byte(row.BundleJSON), &data)
	writeJSON(w, http.StatusOK, model.KeyBundlePayload{
		BundleVersion:  row.BundleVersion,
		UpdatedAtMsUTC: row.UpdatedAtMsUTC,
		Data:           data,
	})
}

// handlePutKeyBundle implements the CAS-versioned overwrite of §4.9: the
// caller's expectedBundleVersion must match the current version (or 0 if
// absent), and the server always writes current+1.
func (s *Server) handlePutKeyBundle(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var req model.KeyBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid_body", "malformed key bundle request body"))
		return
	}

	bundleJSON, err := json.Marshal(req.Bundle.Data)
	if err != nil {
		writeError(w, apperr.Validation("invalid_body", "malformed bundle data"))
		return
	}

	var appErr *apperr.Error
	txErr := s.Store.WithTx(r.Context(), func(ctx context.Context, tx pgx.Tx) error {
		current, err := store.GetKeyBundle(ctx, tx, userID)
		if err != nil {
			return err
		}
		currentVersion := int64(0)
		if current != nil {
			currentVersion = current.BundleVersion
		}
		if req.ExpectedBundleVersion != currentVersion {
			appErr = apperr.Conflict("bundle_version_mismatch", "expectedBundleVersion does not match the current bundle version")
			return nil
		}

		now := clock.NowMsUTC()
		newVersion := currentVersion + 1
		if err := store.PutKeyBundle(ctx, tx, userID, newVersion, string(bundleJSON), now); err != nil {
			return err
		}
		req.Bundle.BundleVersion = newVersion
		req.Bundle.UpdatedAtMsUTC = now
		return nil
	})
	if txErr != nil {
		s.Logger.Error().Err(txErr).Msg("put key bundle failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, req.Bundle)
}

func (s *Server) handleUpsertAttachmentRefs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var req model.UpsertAttachmentRefsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid_body", "malformed attachment refs request body"))
		return
	}
	if len(req.Refs) > maxAttachmentRefsPerRequest {
		writeError(w, apperr.Validation("too_many_refs", "attachment refs upsert accepts at most 5000 pairs per request"))
		return
	}

	now := clock.NowMsUTC()
	for _, ref := range req.Refs {
		if ref.AttachmentID == "" || ref.TodoID == "" {
			continue
		}
		if err := store.UpsertAttachmentRef(r.Context(), s.Store.Pool, userID, ref.AttachmentID, ref.TodoID, now); err != nil {
			s.Logger.Error().Err(err).Msg("upsert attachment ref failed")
			writeError(w, apperr.Internal("internal_error", "internal error"))
			return
		}
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	now := clock.NowMsUTC()
	u, eff, err := quota.EvaluateForUser(r.Context(), s.Store.Pool, s.Quota, userID, now)
	if err != nil {
		s.Logger.Error().Err(err).Msg("me lookup failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}

	writeJSON(w, http.StatusOK, model.MeResponse{
		UserID:           u.ID,
		StoredB64:        u.StoredB64,
		APIOutboundBytes: u.APIOutboundBytes,
		Quota: model.MeQuotaSummary{
			AllowedStorageB64:    eff.AllowedStorageB64,
			AllowedOutboundBytes: eff.AllowedOutboundBytes,
			ActivePlanID:         eff.ActivePlanID,
			ActivePlanName:       eff.ActivePlanName,
			ExpiresAtMsUTC:       eff.ExpiresAtMsUTC,
		},
	})
}

// handleActivateCdkey redeems a code atomically: the code row is locked
// FOR UPDATE inside the transaction so two concurrent redemptions of the
// same code cannot both succeed (§3A).
func (s *Server) handleActivateCdkey(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var req model.ActivateCdkeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, apperr.Validation("invalid_body", "missing activation code"))
		return
	}

	var (
		resp  model.ActivateCdkeyResponse
		appErr *apperr.Error
	)
	txErr := s.Store.WithTx(r.Context(), func(ctx context.Context, tx pgx.Tx) error {
		cdkey, err := store.GetCdkey(ctx, tx, req.Code)
		if err != nil {
			return err
		}
		if cdkey == nil {
			appErr = apperr.NotFound("cdkey_not_found", "activation code not found")
			return nil
		}
		if cdkey.UsedByUserID != nil {
			appErr = apperr.Conflict("cdkey_already_used", "activation code already redeemed")
			return nil
		}
		plan, found := s.Billing.Plan(cdkey.PlanID)
		if !found {
			appErr = apperr.Internal("unknown_plan", "activation code references an unknown plan")
			return nil
		}

		now := clock.NowMsUTC()
		u, err := store.GetUserForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if u.SubscriptionPlanID != nil && u.SubscriptionExpiresAtMsUTC != nil && *u.SubscriptionExpiresAtMsUTC > now {
			appErr = apperr.Conflict("already_subscribed", "a subscription is already active")
			return nil
		}
		expires := now + plan.DurationMs

		if err := store.ActivateSubscription(ctx, tx, userID, plan.ID, expires); err != nil {
			return err
		}
		if err := store.RedeemCdkey(ctx, tx, req.Code, userID, now); err != nil {
			return err
		}

		resp = model.ActivateCdkeyResponse{OK: true, PlanID: plan.ID, ExpiresAtMsUTC: expires}
		return nil
	})
	if txErr != nil {
		s.Logger.Error().Err(txErr).Msg("activate cdkey failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteMe deletes the calling user's account and all owned data
// (§3A), requiring an explicit confirm="DELETE" body as a guard against
// an accidental or CSRF'd call.
func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var req model.DeleteMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Confirm != "DELETE" {
		writeError(w, apperr.Validation("confirmation_required", `body must include "confirm": "DELETE"`))
		return
	}

	if err := store.DeleteUser(r.Context(), s.Store.Pool, userID); err != nil {
		s.Logger.Error().Err(err).Msg("delete account failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}
	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}

// handleGCGhostFiles is the self-serve sweep (§3A): unlike the background
// sweeper, it enables fallback mode, since a user explicitly asking to
// reclaim ghost storage should also catch attachments with no
// attachment_refs evidence at all.
func (s *Server) handleGCGhostFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, apperr.New(apperr.KindUnauthorized, "unauthorized", "missing user claims"))
		return
	}

	var stats ghostgc.Stats
	txErr := s.Store.WithTx(r.Context(), func(ctx context.Context, tx pgx.Tx) error {
		var err error
		stats, err = ghostgc.RunForUser(ctx, tx, userID, ghostgc.Options{IncludeUnreferencedWhenNoLiveTodo: true})
		return err
	})
	if txErr != nil {
		s.Logger.Error().Err(txErr).Msg("self-serve ghost gc failed")
		writeError(w, apperr.Internal("internal_error", "internal error"))
		return
	}

	writeJSON(w, http.StatusOK, model.GCGhostFilesResponse{
		OK:                 true,
		DeletedAttachments: stats.DeletedAttachments,
		DeletedRecords:     stats.DeletedRecords,
		FreedBytes:         stats.StoredBefore - stats.StoredAfter,
		StoredBytes:        stats.StoredAfter,
	})
}
