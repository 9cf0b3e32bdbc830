// Package config loads engine configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all tunables. DATABASE_URL and REDIS_URL are optional: with
// neither set the engine runs on the in-memory store, which is fine for
// development and tests but loses everything on restart.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	// CacheTTL bounds staleness of Redis-cached balances and standings.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// HistoryLimit is the per-event retained change window for delta polls.
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"512"`

	// DedupeCapacity is the per-event idempotency window for applied bids.
	DedupeCapacity int `envconfig:"DEDUPE_CAPACITY" default:"4096"`

	// ApplyAttempts/ApplyBackoff bound the internal retry of leaderboard
	// application after a successful debit.
	ApplyAttempts int           `envconfig:"APPLY_ATTEMPTS" default:"3"`
	ApplyBackoff  time.Duration `envconfig:"APPLY_BACKOFF" default:"50ms"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
