// Command todosync-server runs the HTTP sync backend: the push/pull API,
// the background staged-row and ghost-GC sweepers, and the Prometheus
// /metrics endpoint, wired together the way the teacher's
// internal/server.Server.Start/waitForShutdown/Shutdown trio wires the
// hub, NATS subscriptions, and HTTP listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"todosync-server/internal/auth"
	"todosync-server/internal/config"
	"todosync-server/internal/httpapi"
	"todosync-server/internal/logging"
	"todosync-server/internal/metrics"
	"todosync-server/internal/notify"
	"todosync-server/internal/quota"
	"todosync-server/internal/ratelimit"
	"todosync-server/internal/store"
	"todosync-server/internal/sweeper"
	"todosync-server/internal/syncsvc"
)

// tokenDuration is how long an issued bearer token is valid for. Sync
// clients are long-lived background devices rather than browser
// sessions, so this is generous compared to a typical web session TTL.
const tokenDuration = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.Init(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open postgres pool")
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	var notifier notify.Publisher = notify.Noop{}
	if cfg.NATS.URL != "" {
		client, err := notify.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats connect failed, falling back to no-op notifier")
		} else {
			defer client.Close()
			notifier = client
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	quotaEvaluator := quota.New(cfg.Billing, cfg.Quota)
	syncService := syncsvc.New(st, quotaEvaluator, cfg.Quota, notifier, m)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, tokenDuration)
	limiter := ratelimit.New(50, 100)

	srv := &httpapi.Server{
		Sync:    syncService,
		Store:   st,
		Quota:   quotaEvaluator,
		Billing: cfg.Billing,
		JWT:     jwtManager,
		Limiter: limiter,
		Logger:  logger,
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweep := sweeper.New(st, cfg.Sweeper, logger, m)
	go sweep.Run(ctx)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
