// Package config loads runtime settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the portal API and CLI.
type Config struct {
	Env             string        `env:"PORTAL_ENV,default=prod"`
	Addr            string        `env:"PORTAL_ADDR,default=:8080"`
	PGDSN           string        `env:"PORTAL_PG_DSN"`
	SessionTTL      time.Duration `env:"PORTAL_SESSION_TTL,default=24h"`
	LogLevel        string        `env:"PORTAL_LOG_LEVEL,default=info"`
	CORSOrigins     []string      `env:"PORTAL_CORS_ORIGINS"`
	TrustedProxies  []string      `env:"PORTAL_TRUSTED_PROXIES"`
	LoginRateBurst  int           `env:"PORTAL_LOGIN_RATE_BURST,default=10"`
	LoginRatePerSec float64       `env:"PORTAL_LOGIN_RATE_PER_SEC,default=1"`
	MaxBodyBytes    int64         `env:"PORTAL_MAX_BODY_BYTES,default=1048576"`
	MigrateOnStart  bool          `env:"PORTAL_MIGRATE_ON_START,default=false"`
	ShutdownTimeout time.Duration `env:"PORTAL_SHUTDOWN_TIMEOUT,default=10s"`
	NATSURL         string        `env:"PORTAL_NATS_URL"`
	AuditSubject    string        `env:"PORTAL_AUDIT_SUBJECT,default=erca.portal.audit"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables. In the dev
// environment a .env file in the working directory is read first.
func Load(ctx context.Context) (Config, error) {
	if os.Getenv("PORTAL_ENV") == "dev" {
		_ = godotenv.Load()
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith decodes configuration from an arbitrary lookuper.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("PORTAL_ADDR must not be empty"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("PORTAL_SESSION_TTL must be positive"))
	}
	if c.LoginRateBurst <= 0 || c.LoginRatePerSec <= 0 {
		errs = append(errs, errors.New("login rate limit must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("PORTAL_MAX_BODY_BYTES must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("PORTAL_SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Dev reports whether the service runs in the development environment.
func (c Config) Dev() bool { return c.Env == "dev" }
