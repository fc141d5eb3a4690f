package sessionauth

import (
	"errors"
	"strings"
	"time"

	"github.com/taskboard/sessionauth/password"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what differs.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Account       AccountConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token issuance. Key material is injected here
// and nowhere else.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh-token sessions.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration
	// RotateOnRefresh replaces the refresh token on every refresh. Off by
	// default: a refresh token stays valid until it expires or is revoked.
	RotateOnRefresh bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls bcrypt hashing.
type PasswordConfig struct {
	BcryptCost int
	// UpgradeOnLogin rehashes at the configured cost after a successful
	// login with a hash of a different cost.
	UpgradeOnLogin bool
}

// PasswordResetConfig controls the emailed reset-token flow.
type PasswordResetConfig struct {
	Enabled     bool
	RedisPrefix string
	ResetTTL    time.Duration
	// RevokeSessions logs the account out everywhere after a reset.
	RevokeSessions     bool
	MaxRequests        int
	RequestWindow      time.Duration
	EnableEmailLimiter bool
}

// AccountConfig controls signup validation.
type AccountConfig struct {
	MinUsernameLength int
	MaxUsernameLength int
	MaxEmailLength    int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig groups throttling and revocation policy.
type SecurityConfig struct {
	ProductionMode                 bool
	EnableLoginThrottle            bool
	EnableIPThrottle               bool
	MaxLoginAttempts               int
	LoginCooldownDuration          time.Duration
	RevokeSessionsOnPasswordChange bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the reference configuration: one-hour access tokens,
// ten-day sessions without rotation, bcrypt cost 10. The HS256 secret is
// left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			RedisPrefix:     "as",
			RefreshTTL:      10 * 24 * time.Hour,
			RotateOnRefresh: false,
		},
		Password: PasswordConfig{
			BcryptCost:     password.DefaultCost,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:            false,
			RedisPrefix:        "apr",
			ResetTTL:           15 * time.Minute,
			RevokeSessions:     false,
			MaxRequests:        3,
			RequestWindow:      15 * time.Minute,
			EnableEmailLimiter: true,
		},
		Account: AccountConfig{
			MinUsernameLength: 3,
			MaxUsernameLength: 64,
			MaxEmailLength:    254,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:                 false,
			EnableLoginThrottle:            true,
			EnableIPThrottle:               false,
			MaxLoginAttempts:               5,
			LoginCooldownDuration:          15 * time.Minute,
			RevokeSessionsOnPasswordChange: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if c.Security.ProductionMode && c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 secret must be at least 32 bytes in production mode")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must be >= JWT AccessTTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Password
	if c.Password.BcryptCost != 0 {
		if _, err := password.NewBcrypt(c.Password.BcryptCost); err != nil {
			return err
		}
	}
	if c.Security.ProductionMode && c.Password.BcryptCost != 0 && c.Password.BcryptCost < password.DefaultCost {
		return errors.New("Password BcryptCost must be >= 10 in production mode")
	}

	// Password Reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if strings.TrimSpace(c.PasswordReset.RedisPrefix) == "" {
			return errors.New("PasswordReset RedisPrefix must not be empty")
		}
		if c.PasswordReset.RedisPrefix == c.Session.RedisPrefix {
			return errors.New("PasswordReset RedisPrefix must differ from Session RedisPrefix")
		}
		if c.PasswordReset.EnableEmailLimiter {
			if c.PasswordReset.MaxRequests <= 0 {
				return errors.New("PasswordReset MaxRequests must be > 0")
			}
			if c.PasswordReset.RequestWindow <= 0 {
				return errors.New("PasswordReset RequestWindow must be > 0")
			}
		}
	}

	// Account
	if c.Account.MinUsernameLength < 1 {
		return errors.New("Account MinUsernameLength must be >= 1")
	}
	if c.Account.MaxUsernameLength < c.Account.MinUsernameLength {
		return errors.New("Account MaxUsernameLength must be >= MinUsernameLength")
	}
	if c.Account.MaxEmailLength <= 0 {
		return errors.New("Account MaxEmailLength must be > 0")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
