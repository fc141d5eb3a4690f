package sessionauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskboard/sessionauth/password"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning flags a configuration that validates but is probably not
// what a production deployment wants.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the warnings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	sel := r.BySeverity(min)
	if len(sel) == 0 {
		return nil
	}
	parts := make([]string, 0, len(sel))
	for _, w := range sel {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports risky but valid settings. It never mutates c.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "JWT leeway above 30s extends every access token")
	}
	if c.JWT.AccessTTL > time.Hour {
		add("access_ttl_long", LintWarn, "access tokens cannot be revoked; keep AccessTTL at or below 1h")
	}
	if c.Session.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "sessions longer than 30 days")
	}
	if c.JWT.SigningMethod == "hs256" {
		add("signing_hs256", LintInfo, "hs256 shares the signing secret with every verifier")
	}
	if !c.Security.EnableLoginThrottle {
		add("rate_limits_disabled", LintHigh, "login throttling is disabled")
	} else if !c.Security.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "per-IP login throttling is disabled")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not recorded")
	}
	if cost := c.Password.BcryptCost; cost != 0 && cost < password.DefaultCost {
		add("bcrypt_cost_low", LintWarn, fmt.Sprintf("bcrypt cost %d below %d", cost, password.DefaultCost))
	}
	if !c.Session.RotateOnRefresh {
		add("refresh_rotation_disabled", LintInfo, "a leaked refresh token stays usable until it expires")
	}
	if c.PasswordReset.Enabled && !c.PasswordReset.RevokeSessions {
		add("reset_keeps_sessions", LintInfo, "password reset leaves existing sessions active")
	}
	if c.PasswordReset.Enabled && !c.PasswordReset.EnableEmailLimiter {
		add("reset_limiter_disabled", LintWarn, "password reset requests are not rate limited")
	}
	if c.Security.ProductionMode && len(c.JWT.PrivateKey) > 0 && c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 64 {
		add("hs256_secret_short", LintInfo, "hs256 secret shorter than 64 bytes")
	}

	return ws
}
