//go:build integration

package accounts

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/sessionauth"
	"github.com/taskboard/sessionauth/internal/db/migrate"
)

// Run with:
//
//	SESSIONAUTH_TEST_DATABASE_URL=postgres://... go test -tags=integration ./accounts
func newPostgresForTest(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("SESSIONAUTH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SESSIONAUTH_TEST_DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `TRUNCATE accounts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	st, err := NewPostgres(pool)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	return st
}

func TestPostgresCreateLookupUpdateDelete(t *testing.T) {
	st := newPostgresForTest(t)
	ctx := context.Background()

	rec, err := st.CreateAccount(ctx, sessionauth.CreateAccountInput{
		Username:     "alice",
		Email:        "Alice@Example.com",
		PasswordHash: "h1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Fatalf("expected uuid id, got %q", rec.ID)
	}

	got, err := st.AccountByEmail(ctx, "alice@example.com")
	if err != nil || got.ID != rec.ID || got.Email != "alice@example.com" {
		t.Fatalf("AccountByEmail: %+v %v", got, err)
	}
	if _, err := st.AccountByUsername(ctx, "alice"); err != nil {
		t.Fatalf("AccountByUsername: %v", err)
	}

	if err := st.UpdatePasswordHash(ctx, rec.ID, "h2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = st.AccountByID(ctx, rec.ID)
	if got.PasswordHash != "h2" {
		t.Fatalf("expected h2, got %q", got.PasswordHash)
	}

	if err := st.DeleteAccount(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.AccountByID(ctx, rec.ID); !errors.Is(err, sessionauth.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.DeleteAccount(ctx, rec.ID); !errors.Is(err, sessionauth.ErrAccountNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestPostgresDuplicateClassification(t *testing.T) {
	st := newPostgresForTest(t)
	ctx := context.Background()

	if _, err := st.CreateAccount(ctx, sessionauth.CreateAccountInput{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := st.CreateAccount(ctx, sessionauth.CreateAccountInput{Username: "alice", Email: "other@example.com", PasswordHash: "h"})
	if !errors.Is(err, sessionauth.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	_, err = st.CreateAccount(ctx, sessionauth.CreateAccountInput{Username: "bob", Email: "ALICE@example.com", PasswordHash: "h"})
	if !errors.Is(err, sessionauth.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestPostgresNonUUIDIsNotFound(t *testing.T) {
	st := newPostgresForTest(t)
	if _, err := st.AccountByID(context.Background(), "not-a-uuid"); !errors.Is(err, sessionauth.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
