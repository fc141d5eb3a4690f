package sessionauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	internalaudit "github.com/taskboard/sessionauth/internal/audit"
	"github.com/taskboard/sessionauth/internal/rate"
	"github.com/taskboard/sessionauth/jwt"
	"github.com/taskboard/sessionauth/password"
	"github.com/taskboard/sessionauth/session"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and
// used once. Build validates the configuration and the injected dependencies.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts    AccountProvider
	sessions    SessionStore
	auditSink   AuditSink
	resetSender ResetTokenSender
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is copied; later
// changes to cfg's key slices do not affect the builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used for sessions, login throttling and
// reset tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider sets the account repository. It is required.
func (b *Builder) WithAccountProvider(provider AccountProvider) *Builder {
	b.accounts = provider
	return b
}

// WithSessionStore overrides the Redis session store. When set, Redis is
// only needed for throttling and password reset.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithLogger sets the logger for best-effort failures. Defaults to
// slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the destination of audit events. Auditing must also be
// enabled in [AuditConfig].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithResetSender sets the delivery channel for password-reset tokens. It is
// required when password reset is enabled.
func (b *Builder) WithResetSender(sender ResetTokenSender) *Builder {
	b.resetSender = sender
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now for token and session expiry. Intended for
// tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready [Engine].
//
// Build may be called once per Builder.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}

	if b.redis == nil {
		if b.sessions == nil {
			return nil, errors.New("redis client required")
		}
		if cfg.Security.EnableLoginThrottle {
			return nil, errors.New("login throttle requires redis client")
		}
		if cfg.PasswordReset.Enabled {
			return nil, errors.New("PasswordReset requires redis client")
		}
	}

	if cfg.PasswordReset.Enabled && b.resetSender == nil {
		return nil, errors.New("PasswordReset requires a reset sender")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- SESSION STORE --------
	store := b.sessions
	if store == nil {
		store = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	}

	engine := &Engine{
		config:   cfg,
		sessions: store,
		accounts: b.accounts,
		logger:   logger,
		now:      now,
	}

	if b.redis != nil {
		maxResets := 0
		if cfg.PasswordReset.EnableEmailLimiter {
			maxResets = cfg.PasswordReset.MaxRequests
		}
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
			MaxResetRequests:      maxResets,
			ResetRequestWindow:    cfg.PasswordReset.RequestWindow,
		})
	}
	if cfg.PasswordReset.Enabled {
		engine.resetStore = newPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix)
		engine.resetSender = b.resetSender
	}

	hasher, err := password.NewBcrypt(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwt = jm

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
