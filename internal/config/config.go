// Package config loads runtime configuration from the environment,
// following the nested-struct-plus-viper-defaults shape the teacher's
// go-server-3/internal/config/config.go uses, generalized with a SYNC_
// env prefix and the billing/subscription-plan parsing idiom from the
// original Rust service's BillingConfig::load_from_env.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Billing  BillingConfig  `mapstructure:"-"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// QuotaConfig is the core-relevant environment surface from §6: caps that
// bound a single push batch and the default per-user allowances the Quota
// Evaluator falls back to when a user row has no override.
type QuotaConfig struct {
	MaxPushRecords      int   `mapstructure:"max_push_records"`
	MaxRecordsPerUser   int64 `mapstructure:"max_records_per_user"`
	BodyLimitBytes      int64 `mapstructure:"body_limit_bytes"`
	DefaultStorageB64   *int64 `mapstructure:"-"`
	DefaultOutboundBytes *int64 `mapstructure:"-"`
}

// SubscriptionPlan mirrors the original's SubscriptionPlan: an id/name
// pair with a positive duration and non-negative storage/outbound bonuses.
type SubscriptionPlan struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	DurationMs         int64  `json:"durationMs"`
	ExtraStorageB64    int64  `json:"extraStorageB64"`
	ExtraOutboundBytes int64  `json:"extraOutboundBytes"`
}

type BillingConfig struct {
	Plans map[string]SubscriptionPlan
}

func (b BillingConfig) Plan(id string) (SubscriptionPlan, bool) {
	p, ok := b.Plans[id]
	return p, ok
}

type SweeperConfig struct {
	StagedTTLMs        int64         `mapstructure:"staged_ttl_ms"`
	StagedGCInterval    time.Duration `mapstructure:"staged_gc_interval"`
	GhostGCInterval     time.Duration `mapstructure:"ghost_gc_interval"`
	GhostGCMinRefAgeMs  int64         `mapstructure:"ghost_gc_min_ref_age_ms"`
	GhostGCBatchUsers   int64         `mapstructure:"ghost_gc_batch_users"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject_prefix"`
}

// Load reads configuration from environment variables (prefix SYNC_),
// applying the same typed-default-then-unmarshal shape as the teacher's
// viper config loader.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/todosync?sslmode=disable")
	v.SetDefault("postgres.max_conns", 16)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("quota.max_push_records", 500)
	v.SetDefault("quota.max_records_per_user", 0)
	v.SetDefault("quota.body_limit_bytes", 512*1024)

	v.SetDefault("sweeper.staged_ttl_ms", int64(24*time.Hour/time.Millisecond))
	v.SetDefault("sweeper.staged_gc_interval", time.Hour)
	v.SetDefault("sweeper.ghost_gc_interval", time.Hour)
	v.SetDefault("sweeper.ghost_gc_min_ref_age_ms", int64(10*time.Minute/time.Millisecond))
	v.SetDefault("sweeper.ghost_gc_batch_users", int64(500))

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "sync.updated")

	v.SetEnvPrefix("SYNC")
	v.AutomaticEnv()
	bindEnv(v, "server.host", "server.port", "server.read_timeout", "server.write_timeout",
		"server.idle_timeout", "postgres.dsn", "postgres.max_conns", "auth.jwt_secret",
		"quota.max_push_records", "quota.max_records_per_user", "quota.body_limit_bytes",
		"sweeper.staged_ttl_ms", "sweeper.staged_gc_interval", "sweeper.ghost_gc_interval",
		"sweeper.ghost_gc_min_ref_age_ms", "sweeper.ghost_gc_batch_users",
		"metrics.enabled", "metrics.listen_addr", "logging.level", "logging.pretty",
		"nats.url", "nats.subject_prefix")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, errors.New("SYNC_AUTH_JWT_SECRET must be set")
	}

	cfg.Quota.DefaultStorageB64 = optionalInt64Env(v, "quota.default_storage_b64")
	cfg.Quota.DefaultOutboundBytes = optionalInt64Env(v, "quota.default_outbound_bytes")

	billing, err := loadBillingConfig(v)
	if err != nil {
		return Config{}, fmt.Errorf("billing config: %w", err)
	}
	cfg.Billing = billing

	return cfg, nil
}

// bindEnv makes viper's automatic-env binding explicit for nested keys;
// viper's dotted-key-to-env-var translation needs each key bound once
// before AutomaticEnv will pick up SYNC_SERVER_PORT style overrides for
// mapstructure-nested fields.
func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func optionalInt64Env(v *viper.Viper, key string) *int64 {
	v.SetDefault(key, "")
	_ = v.BindEnv(key)
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return nil
	}
	return &n
}

// loadBillingConfig parses SYNC_SUBSCRIPTION_PLANS_JSON, a JSON array of
// plan descriptors, validating each the way the original's
// SubscriptionPlanConfig::validate did: non-empty id/name, positive
// duration, non-negative bonuses.
func loadBillingConfig(v *viper.Viper) (BillingConfig, error) {
	v.SetDefault("subscription_plans_json", "[]")
	_ = v.BindEnv("subscription_plans_json")
	raw := v.GetString("subscription_plans_json")
	if raw == "" {
		raw = "[]"
	}

	var plans []SubscriptionPlan
	if err := json.Unmarshal([]byte(raw), &plans); err != nil {
		return BillingConfig{}, fmt.Errorf("parsing SYNC_SUBSCRIPTION_PLANS_JSON: %w", err)
	}

	var errs []error
	byID := make(map[string]SubscriptionPlan, len(plans))
	for i, p := range plans {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("plan[%d]: missing id", i))
			continue
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("plan %q: missing name", p.ID))
			continue
		}
		if p.DurationMs <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: duration_ms must be positive", p.ID))
			continue
		}
		if p.ExtraStorageB64 < 0 || p.ExtraOutboundBytes < 0 {
			errs = append(errs, fmt.Errorf("plan %q: bonuses must be non-negative", p.ID))
			continue
		}
		byID[p.ID] = p
	}
	if len(errs) > 0 {
		return BillingConfig{}, errors.Join(errs...)
	}

	return BillingConfig{Plans: byID}, nil
}
