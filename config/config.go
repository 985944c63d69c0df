// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
)

// R2 locates the bucket clip references are checked against.
type R2 struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether enough is set to build a client.
func (r R2) Enabled() bool {
	return r.AccountID != "" && r.Bucket != ""
}

type Config struct {
	Port             string   `env:"PORT"               envDefault:"5200"`
	GameServiceToken string   `env:"GAME_SERVICE_TOKEN"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS"    envDefault:"http://localhost:3000" envSeparator:","`
	AuthServiceURL   string   `env:"AUTH_SERVICE_URL"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	DynamoTable string `env:"DYNAMO_TABLE" envDefault:"trick-battle"`
	AWSRegion   string `env:"AWS_REGION"   envDefault:"us-east-1"`
	// DynamoEndpoint points at a local DynamoDB; empty uses the regional endpoint.
	DynamoEndpoint string `env:"DYNAMO_ENDPOINT"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"trickbattle"`

	R2          R2
	RequireClip bool `env:"REQUIRE_CLIP" envDefault:"false"`

	QueueCandidateLimit  int           `env:"QUEUE_CANDIDATE_LIMIT"  envDefault:"5"`
	QueueStaleAfter      time.Duration `env:"QUEUE_STALE_AFTER"      envDefault:"30m"`
	QueueJanitorInterval time.Duration `env:"QUEUE_JANITOR_INTERVAL" envDefault:"5m"`

	TxMaxAttempts       int           `env:"TX_MAX_ATTEMPTS"       envDefault:"25"`
	WatchPollInterval   time.Duration `env:"WATCH_POLL_INTERVAL"   envDefault:"2s"`
	MatchLookupAttempts int           `env:"MATCH_LOOKUP_ATTEMPTS" envDefault:"5"`
	MatchLookupDelay    time.Duration `env:"MATCH_LOOKUP_DELAY"    envDefault:"200ms"`
	SSEKeepAlive        time.Duration `env:"SSE_KEEPALIVE"         envDefault:"15s"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalized(), cfg.Validate()
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalized(), cfg.Validate()
}

func (c Config) normalized() Config {
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	return c
}

// Validate rejects missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.GameServiceToken == "" {
		errs = append(errs, errors.New("GAME_SERVICE_TOKEN is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.StoreDriver)) {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverDynamo:
		if c.DynamoTable == "" {
			errs = append(errs, errors.New("DYNAMO_TABLE is required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.RequireClip && !c.R2.Enabled() {
		errs = append(errs, errors.New("REQUIRE_CLIP needs CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME"))
	}
	if c.QueueCandidateLimit < 1 {
		errs = append(errs, errors.New("QUEUE_CANDIDATE_LIMIT must be at least 1"))
	}
	if c.TxMaxAttempts < 1 {
		errs = append(errs, errors.New("TX_MAX_ATTEMPTS must be at least 1"))
	}
	if c.MatchLookupAttempts < 1 {
		errs = append(errs, errors.New("MATCH_LOOKUP_ATTEMPTS must be at least 1"))
	}
	if c.QueueStaleAfter < 0 || c.QueueJanitorInterval < 0 {
		errs = append(errs, errors.New("queue durations must not be negative"))
	}
	if c.WatchPollInterval <= 0 || c.SSEKeepAlive <= 0 {
		errs = append(errs, errors.New("WATCH_POLL_INTERVAL and SSE_KEEPALIVE must be positive"))
	}
	return errors.Join(errs...)
}
