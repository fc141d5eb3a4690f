package sessionauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSecurityInvariantSecretsNeverStoredInPlaintext(t *testing.T) {
	h := newEngineHarness(t, nil)
	defer h.done()
	ctx := context.Background()

	issued := h.signup(t, "alice", "alice@example.com", "correct-password-123")
	if err := h.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	resetToken := h.sender.last(t).token

	secrets := []string{issued.RefreshToken, resetToken}
	contains := func(where, s string) {
		for _, secret := range secrets {
			if strings.Contains(s, secret) {
				t.Fatalf("plaintext secret found in redis %s %q", where, s)
			}
		}
	}

	for _, key := range h.mr.Keys() {
		contains("key", key)
		switch h.mr.Type(key) {
		case "hash":
			fields, err := h.mr.HKeys(key)
			if err != nil {
				t.Fatalf("hkeys %s: %v", key, err)
			}
			for _, f := range fields {
				contains("hash field", f)
				contains("hash value", h.mr.HGet(key, f))
			}
		case "string":
			v, err := h.mr.Get(key)
			if err != nil {
				t.Fatalf("get %s: %v", key, err)
			}
			contains("value", v)
		}
	}
}

func TestSecurityInvariantRotatedTokenIsDead(t *testing.T) {
	h := newEngineHarness(t, func(cfg *Config) { cfg.Session.RotateOnRefresh = true })
	defer h.done()
	ctx := context.Background()

	issued := h.signup(t, "alice", "alice@example.com", "correct-password-123")
	res, err := h.engine.Refresh(ctx, issued.Account.ID, issued.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, issued.Account.ID, issued.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected replayed token to be rejected, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, issued.Account.ID, res.RefreshToken); err != nil {
		t.Fatalf("rotated token should work: %v", err)
	}
	if n := h.sessionCount(t, issued.Account.ID); n != 1 {
		t.Fatalf("expected rotation to keep one session, got %d", n)
	}
}

func TestSecurityInvariantRevocationStopsRefreshNotAccess(t *testing.T) {
	h := newEngineHarness(t, nil)
	defer h.done()
	ctx := context.Background()

	issued := h.signup(t, "alice", "alice@example.com", "correct-password-123")
	if err := h.engine.LogoutAll(ctx, issued.Account.ID); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	if _, err := h.engine.Refresh(ctx, issued.Account.ID, issued.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected refresh to fail after revocation, got %v", err)
	}
	// Access tokens are self-contained and stay valid until they expire.
	if _, err := h.engine.Authenticate(ctx, issued.AccessToken); err != nil {
		t.Fatalf("access token should outlive revocation until expiry: %v", err)
	}

	h.clock.Advance(h.engine.config.JWT.AccessTTL + time.Minute)
	_, err := h.engine.Authenticate(ctx, issued.AccessToken)
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired access token, got %v", err)
	}
}

func TestSecurityInvariantDeletedAccountCannotAuthenticate(t *testing.T) {
	h := newEngineHarness(t, nil)
	defer h.done()
	ctx := context.Background()

	issued := h.signup(t, "alice", "alice@example.com", "correct-password-123")
	if err := h.engine.DeleteAccount(ctx, issued.Account.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := h.engine.Login(ctx, "alice", "correct-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, issued.Account.ID, issued.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected refresh to fail, got %v", err)
	}
	if n := h.sessionCount(t, issued.Account.ID); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}
