// Package config loads service configuration from SPLITD_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/emiliopalmerini/splitd/internal/adapters/otel"
)

const prefix = "SPLITD"

// Backend selects where assignments and events are stored.
type Backend string

const (
	BackendSQL    Backend = "sql"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:splitd.db"`
	AuthToken   string `envconfig:"AUTH_TOKEN"`

	AssignmentBackend Backend `envconfig:"ASSIGNMENT_BACKEND" default:"sql"`
	Redis             Redis   `envconfig:"REDIS"`

	DecisionTimeout    time.Duration `envconfig:"DECISION_TIMEOUT" default:"250ms"`
	ExperimentCacheTTL time.Duration `envconfig:"EXPERIMENT_CACHE_TTL" default:"5s"`
	RecordExposures    bool          `envconfig:"RECORD_EXPOSURES" default:"true"`
	IngestBuffer       int           `envconfig:"INGEST_BUFFER" default:"1024"`
	IngestWorkers      int           `envconfig:"INGEST_WORKERS" default:"4"`

	MinSampleSize       int64   `envconfig:"MIN_SAMPLE_SIZE" default:"100"`
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.95"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	OTel OTel `envconfig:"OTEL"`
}

// Redis is read from SPLITD_REDIS_*.
type Redis struct {
	Addr      string `envconfig:"ADDR" default:"localhost:6379"`
	Password  string `envconfig:"PASSWORD"`
	DB        int    `envconfig:"DB" default:"0"`
	Namespace string `envconfig:"NAMESPACE" default:"default"`
	StreamMax int64  `envconfig:"STREAM_MAXLEN" default:"100000"`
}

// OTel is read from SPLITD_OTEL_*.
type OTel struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	Endpoint string `envconfig:"ENDPOINT"`
	Insecure bool   `envconfig:"INSECURE" default:"false"`
}

// Exporter converts the OTel section into the exporter's config.
func (o OTel) Exporter() otel.Config {
	return otel.Config{Endpoint: o.Endpoint, Enabled: o.Enabled, Insecure: o.Insecure}
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.AssignmentBackend {
	case BackendSQL, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("%s_ASSIGNMENT_BACKEND: unknown backend %q (want sql, redis or memory)", prefix, c.AssignmentBackend)
	}
	if c.DecisionTimeout <= 0 {
		return fmt.Errorf("%s_DECISION_TIMEOUT must be positive", prefix)
	}
	if c.IngestBuffer < 1 || c.IngestWorkers < 1 {
		return fmt.Errorf("%s_INGEST_BUFFER and %s_INGEST_WORKERS must be at least 1", prefix, prefix)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("%s_CONFIDENCE_THRESHOLD must be between 0 and 1", prefix)
	}
	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		return fmt.Errorf("%s_OTEL_ENDPOINT is required when OTEL is enabled", prefix)
	}
	return nil
}
