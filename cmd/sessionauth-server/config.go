package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/taskboard/sessionauth"
)

// serverConfig holds the process configuration loaded from the environment.
type serverConfig struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"SESSIONAUTH_ADDR"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"SESSIONAUTH_LOG_LEVEL"`
	// Dev runs against an in-process Redis and, without a database URL, an
	// in-memory account store. A signing secret is generated when missing.
	Dev bool `mapstructure:"SESSIONAUTH_DEV"`
	// Production turns on the engine's production checks.
	Production bool `mapstructure:"SESSIONAUTH_PRODUCTION"`

	RedisAddr     string `mapstructure:"SESSIONAUTH_REDIS_ADDR"`
	RedisPassword string `mapstructure:"SESSIONAUTH_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"SESSIONAUTH_REDIS_DB"`

	// DatabaseURL is the Postgres DSN for the account store.
	DatabaseURL string `mapstructure:"SESSIONAUTH_DATABASE_URL"`
	// DatabaseSchema is the schema holding the accounts table.
	DatabaseSchema string `mapstructure:"SESSIONAUTH_DATABASE_SCHEMA"`
	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `mapstructure:"SESSIONAUTH_MIGRATE"`

	JWTSecret   string        `mapstructure:"SESSIONAUTH_JWT_SECRET"`
	JWTIssuer   string        `mapstructure:"SESSIONAUTH_JWT_ISSUER"`
	JWTAudience string        `mapstructure:"SESSIONAUTH_JWT_AUDIENCE"`
	AccessTTL   time.Duration `mapstructure:"SESSIONAUTH_ACCESS_TTL"`
	RefreshTTL  time.Duration `mapstructure:"SESSIONAUTH_REFRESH_TTL"`
	// RotateRefresh replaces the refresh token on every refresh.
	RotateRefresh bool `mapstructure:"SESSIONAUTH_ROTATE_REFRESH"`
	BcryptCost    int  `mapstructure:"SESSIONAUTH_BCRYPT_COST"`

	ResetEnabled bool          `mapstructure:"SESSIONAUTH_RESET_ENABLED"`
	ResetTTL     time.Duration `mapstructure:"SESSIONAUTH_RESET_TTL"`

	// CORSOrigins is a comma-separated origin list; "*" allows any.
	CORSOrigins string `mapstructure:"SESSIONAUTH_CORS_ORIGINS"`
	// TrustProxy reads the client IP from X-Forwarded-For.
	TrustProxy bool `mapstructure:"SESSIONAUTH_TRUST_PROXY"`

	Metrics bool `mapstructure:"SESSIONAUTH_METRICS"`
	Audit   bool `mapstructure:"SESSIONAUTH_AUDIT"`

	ShutdownTimeout time.Duration `mapstructure:"SESSIONAUTH_SHUTDOWN_TIMEOUT"`
}

// loadConfig reads .env (if present), then the environment. Env vars
// override .env.
func loadConfig(v *viper.Viper) (*serverConfig, error) {
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("SESSIONAUTH_ADDR", ":8080")
	v.SetDefault("SESSIONAUTH_LOG_LEVEL", "info")
	v.SetDefault("SESSIONAUTH_DEV", false)
	v.SetDefault("SESSIONAUTH_PRODUCTION", false)
	v.SetDefault("SESSIONAUTH_REDIS_ADDR", "")
	v.SetDefault("SESSIONAUTH_REDIS_PASSWORD", "")
	v.SetDefault("SESSIONAUTH_REDIS_DB", 0)
	v.SetDefault("SESSIONAUTH_DATABASE_URL", "")
	v.SetDefault("SESSIONAUTH_DATABASE_SCHEMA", "")
	v.SetDefault("SESSIONAUTH_MIGRATE", true)
	v.SetDefault("SESSIONAUTH_JWT_SECRET", "")
	v.SetDefault("SESSIONAUTH_JWT_ISSUER", "")
	v.SetDefault("SESSIONAUTH_JWT_AUDIENCE", "")
	v.SetDefault("SESSIONAUTH_ACCESS_TTL", "1h")
	v.SetDefault("SESSIONAUTH_REFRESH_TTL", "240h")
	v.SetDefault("SESSIONAUTH_ROTATE_REFRESH", false)
	v.SetDefault("SESSIONAUTH_BCRYPT_COST", 10)
	v.SetDefault("SESSIONAUTH_RESET_ENABLED", false)
	v.SetDefault("SESSIONAUTH_RESET_TTL", "15m")
	v.SetDefault("SESSIONAUTH_CORS_ORIGINS", "")
	v.SetDefault("SESSIONAUTH_TRUST_PROXY", false)
	v.SetDefault("SESSIONAUTH_METRICS", false)
	v.SetDefault("SESSIONAUTH_AUDIT", false)
	v.SetDefault("SESSIONAUTH_SHUTDOWN_TIMEOUT", "15s")

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("config: SESSIONAUTH_ADDR must be set")
	}
	if !cfg.Dev && cfg.RedisAddr == "" {
		return nil, errors.New("config: SESSIONAUTH_REDIS_ADDR must be set outside dev mode")
	}
	if !cfg.Dev && cfg.DatabaseURL == "" {
		return nil, errors.New("config: SESSIONAUTH_DATABASE_URL must be set outside dev mode")
	}
	if !cfg.Dev && cfg.JWTSecret == "" {
		return nil, errors.New("config: SESSIONAUTH_JWT_SECRET must be set outside dev mode")
	}
	if cfg.Dev && cfg.Production {
		return nil, errors.New("config: SESSIONAUTH_DEV must not be true when SESSIONAUTH_PRODUCTION=true")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &cfg, nil
}

// engineConfig maps the process configuration onto the engine's.
func (c *serverConfig) engineConfig(secret []byte) (sessionauth.Config, error) {
	cfg := sessionauth.DefaultConfig()
	cfg.JWT.PrivateKey = secret
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.Session.RefreshTTL = c.RefreshTTL
	cfg.Session.RotateOnRefresh = c.RotateRefresh
	cfg.Password.BcryptCost = c.BcryptCost
	cfg.PasswordReset.Enabled = c.ResetEnabled
	cfg.PasswordReset.ResetTTL = c.ResetTTL
	cfg.Security.ProductionMode = c.Production
	cfg.Security.EnableIPThrottle = c.TrustProxy
	cfg.Audit.Enabled = c.Audit
	cfg.Metrics.Enabled = c.Metrics
	cfg.Metrics.EnableLatencyHistograms = c.Metrics

	if err := cfg.Validate(); err != nil {
		return sessionauth.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// corsOrigins splits CORSOrigins on commas, dropping blanks.
func (c *serverConfig) corsOrigins() []string {
	if c == nil || c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
