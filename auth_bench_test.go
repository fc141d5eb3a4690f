package sessionauth

import (
	"context"
	"testing"
)

func newBenchmarkHarness(b *testing.B, rotate bool) (*engineHarness, *IssuedSession) {
	b.Helper()
	h := newEngineHarness(b, func(cfg *Config) {
		cfg.Session.RotateOnRefresh = rotate
		cfg.Security.EnableLoginThrottle = false
	})
	issued := h.signup(b, "alice", "alice@example.com", "correct-password-123")
	return h, issued
}

func BenchmarkAuthenticate(b *testing.B) {
	h, issued := newBenchmarkHarness(b, false)
	defer h.done()

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.engine.Authenticate(ctx, issued.AccessToken); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	h, issued := newBenchmarkHarness(b, false)
	defer h.done()

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.engine.Refresh(ctx, issued.Account.ID, issued.RefreshToken); err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
	}
}

func BenchmarkRefreshRotating(b *testing.B) {
	h, issued := newBenchmarkHarness(b, true)
	defer h.done()

	ctx := context.Background()
	token := issued.RefreshToken
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := h.engine.Refresh(ctx, issued.Account.ID, token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = res.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	h, issued := newBenchmarkHarness(b, false)
	defer h.done()

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := h.engine.Login(ctx, "alice", "correct-password-123")
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = h.engine.Logout(ctx, issued.Account.ID, s.RefreshToken)
	}
}
