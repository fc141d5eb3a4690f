package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/sessionauth"
)

// Postgres implements account persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; Postgres never closes it. The schema
// is created by internal/db/migrate.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

var _ sessionauth.AccountProvider = (*Postgres)(nil)

// PostgresOption configures the store.
type PostgresOption func(*Postgres) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the accounts table (default
// "public").
func WithSchema(schema string) PostgresOption {
	return func(s *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("accounts: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("accounts: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgres constructs a Postgres store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	st := &Postgres{
		pool:   pool,
		schema: "public",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("accounts: nil pool")
	}
	return st, nil
}

func (s *Postgres) table() string {
	return pgx.Identifier{s.schema, "accounts"}.Sanitize()
}

const accountColumns = `id::text, username, email, password_hash, created_at`

func (s *Postgres) CreateAccount(ctx context.Context, in sessionauth.CreateAccountInput) (sessionauth.AccountRecord, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.PasswordHash == "" {
		return sessionauth.AccountRecord{}, sessionauth.ErrAccountCreationInvalid
	}

	rec := sessionauth.AccountRecord{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    s.now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (id, username, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		rec.ID, rec.Username, rec.Email, rec.PasswordHash, rec.CreatedAt,
	)
	if err != nil {
		if dup, ok := pgClassifyUniqueViolation(err); ok {
			return sessionauth.AccountRecord{}, dup
		}
		return sessionauth.AccountRecord{}, fmt.Errorf("accounts: insert: %w", err)
	}
	return rec, nil
}

func (s *Postgres) AccountByID(ctx context.Context, id string) (sessionauth.AccountRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		// Not a uuid, so it cannot match; skip the round trip and the cast error.
		return sessionauth.AccountRecord{}, sessionauth.ErrAccountNotFound
	}
	return s.queryOne(ctx, `SELECT `+accountColumns+` FROM `+s.table()+` WHERE id = $1`, id)
}

func (s *Postgres) AccountByUsername(ctx context.Context, username string) (sessionauth.AccountRecord, error) {
	return s.queryOne(ctx, `SELECT `+accountColumns+` FROM `+s.table()+` WHERE username = $1`, strings.TrimSpace(username))
}

func (s *Postgres) AccountByEmail(ctx context.Context, email string) (sessionauth.AccountRecord, error) {
	return s.queryOne(ctx, `SELECT `+accountColumns+` FROM `+s.table()+` WHERE email = $1`, normalizeEmail(email))
}

func (s *Postgres) queryOne(ctx context.Context, sql string, arg string) (sessionauth.AccountRecord, error) {
	var rec sessionauth.AccountRecord
	err := s.pool.QueryRow(ctx, sql, arg).Scan(
		&rec.ID,
		&rec.Username,
		&rec.Email,
		&rec.PasswordHash,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessionauth.AccountRecord{}, sessionauth.ErrAccountNotFound
		}
		return sessionauth.AccountRecord{}, fmt.Errorf("accounts: query: %w", err)
	}
	return rec, nil
}

func (s *Postgres) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return sessionauth.ErrAccountNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("accounts: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionauth.ErrAccountNotFound
	}
	return nil
}

func (s *Postgres) DeleteAccount(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return sessionauth.ErrAccountNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("accounts: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionauth.ErrAccountNotFound
	}
	return nil
}

// Ping checks database reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgClassifyUniqueViolation(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	if pgErr.Code != "23505" { // unique_violation
		return nil, false
	}

	// Prefer the schema's constraint names, then fall back to substring
	// matching for hand-made schemas.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_accounts_username", strings.Contains(c, "username"):
		return sessionauth.ErrDuplicateUsername, true
	case c == "uq_accounts_email", strings.Contains(c, "email"):
		return sessionauth.ErrDuplicateEmail, true
	default:
		return sessionauth.ErrAccountCreationInvalid, true
	}
}
