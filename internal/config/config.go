// Package config loads engine configuration from the environment, with an
// optional .env file for local development — the same two-step load the
// teacher's main.go performs before constructing a structured logger.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every option the core recognizes, per spec.md §6.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	InstanceID string `env:"INSTANCE_ID"` // defaults to hostname-pid if unset

	// Composite historical provider.
	FailureBackoffDuration     time.Duration `env:"FAILURE_BACKOFF_DURATION" envDefault:"5m"`
	EnableCrossValidation      bool          `env:"ENABLE_CROSS_VALIDATION" envDefault:"false"`
	EnableRateLimitRotation    bool          `env:"ENABLE_RATE_LIMIT_ROTATION" envDefault:"true"`
	RateLimitRotationThreshold float64       `env:"RATE_LIMIT_ROTATION_THRESHOLD" envDefault:"0.8"`

	// Reconnect helper.
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	BaseReconnectDelay   time.Duration `env:"BASE_RECONNECT_DELAY" envDefault:"2s"`
	MaxReconnectDelay    time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"60s"`

	// Instance coordinator.
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`
	ClaimDir         string        `env:"CLAIM_DIR" envDefault:"./claims"`

	// Storage sink.
	StorageRoot          string        `env:"STORAGE_ROOT" envDefault:"./data"`
	StorageBufferSize    int           `env:"STORAGE_BUFFER_SIZE" envDefault:"10000"`
	StorageFlushInterval time.Duration `env:"STORAGE_FLUSH_INTERVAL" envDefault:"30s"`
	StorageCodec         string        `env:"STORAGE_CODEC" envDefault:"none"`

	// Bounded publisher.
	PublisherQueueCapacity int `env:"PUBLISHER_QUEUE_CAPACITY" envDefault:"50000"`

	// Downstream republish (optional). Republishing is disabled when
	// NATSURL is empty.
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"marketfeed"`

	// Trading session (operational scheduler).
	TradingSessionStart time.Duration `env:"TRADING_SESSION_START" envDefault:"9h30m"`
	TradingSessionEnd   time.Duration `env:"TRADING_SESSION_END" envDefault:"16h"`
	SchedulerCPUThreshold float64     `env:"SCHEDULER_CPU_THRESHOLD" envDefault:"80"`

	// Backfill runner. Empty BackfillSymbols disables backfill entirely —
	// a deployment with only streaming providers registered never
	// constructs a Runner.
	BackfillSymbols     []string      `env:"BACKFILL_SYMBOLS" envSeparator:","`
	BackfillFrom        string        `env:"BACKFILL_FROM"` // RFC3339; empty disables backfill
	BackfillTo          string        `env:"BACKFILL_TO"`   // RFC3339; empty means now
	BackfillAdjusted    bool          `env:"BACKFILL_ADJUSTED" envDefault:"false"`
	BackfillWorkerCount int           `env:"BACKFILL_WORKER_COUNT" envDefault:"4"`
}

// Load reads a .env file (if present) and then binds environment variables
// onto a Config with its defaults applied. envFile may be empty, in which
// case only ".env" in the working directory is attempted, silently skipped
// if absent — mirroring the teacher's tolerant startup behavior.
func Load(envFile string) (*Config, error) {
	path := envFile
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown-host"
		}
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return cfg, nil
}
