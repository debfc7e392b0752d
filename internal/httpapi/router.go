// Package httpapi wires the sync HTTP surface of §4 onto chi, following
// the Server{deps...}.Routes(...) http.Handler shape from
// erauner12-toolbridge-api's internal/httpapi/router.go.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"todosync-server/internal/auth"
	"todosync-server/internal/config"
	"todosync-server/internal/health"
	"todosync-server/internal/quota"
	"todosync-server/internal/ratelimit"
	"todosync-server/internal/store"
	"todosync-server/internal/syncsvc"
)

// Server holds the dependencies every handler needs.
type Server struct {
	Sync    *syncsvc.Service
	Store   *store.Store
	Quota   *quota.Evaluator
	Billing config.BillingConfig
	JWT     *auth.JWTManager
	Limiter *ratelimit.Limiter
	Logger  zerolog.Logger
}

// Routes builds the full router. Every route below /v1 and /web/api/me
// requires a verified bearer token; there is no unauthenticated sync
// surface other than the liveness probe.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", health.Handler(s.Store))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.JWT.AuthMiddleware)
		if s.Limiter != nil {
			r.Use(s.Limiter.Middleware)
		}

		r.Post("/v1/sync/push", s.handlePush)
		r.Get("/v1/sync/pull", s.handlePull)

		r.Get("/v1/key-bundle", s.handleGetKeyBundle)
		r.Put("/v1/key-bundle", s.handlePutKeyBundle)

		r.Post("/v1/attachments/refs", s.handleUpsertAttachmentRefs)

		r.Get("/web/api/me", s.handleMe)
		r.Post("/web/api/me/activate-cdkey", s.handleActivateCdkey)
		r.Post("/web/api/me/delete-me", s.handleDeleteMe)
		r.Post("/web/api/me/gc-ghost-files", s.handleGCGhostFiles)
	})

	return r
}
