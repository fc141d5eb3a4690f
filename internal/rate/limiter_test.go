package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginBudgetAndCooldown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d unexpectedly limited: %v", i, err)
		}
		_ = l.IncrementLogin(ctx, "alice", "")
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget, got %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("expected other usernames unaffected, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected budget restored after window, got %v", err)
	}
}

func TestResetLoginClearsCounters(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "alice", "10.0.0.1")
	if err := l.CheckLogin(ctx, "alice", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	if err := l.ResetLogin(ctx, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err := l.LoginAttempts(ctx, "alice")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected counter cleared, got %d", n)
	}
}

func TestIPThrottleAcrossUsernames(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "10.0.0.9")
	_ = l.IncrementLogin(ctx, "bob", "10.0.0.9")

	if err := l.CheckLogin(ctx, "carol", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP budget to apply across usernames, got %v", err)
	}
}

func TestAllowResetRequest(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxResetRequests: 2, ResetRequestWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowResetRequest(ctx, "a@example.com"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.AllowResetRequest(ctx, "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRedisDownIsReported(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	mr.Close()

	if err := l.CheckLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
