package accounts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskboard/sessionauth"
)

// Memory is an in-process account store. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]sessionauth.AccountRecord
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

var _ sessionauth.AccountProvider = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:       make(map[string]sessionauth.AccountRecord),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// CreateAccount stores a new account under a fresh UUID. The username is
// trimmed and the email lower-cased before the uniqueness checks, which
// report [sessionauth.ErrDuplicateUsername] or [sessionauth.ErrDuplicateEmail].
func (m *Memory) CreateAccount(ctx context.Context, in sessionauth.CreateAccountInput) (sessionauth.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.AccountRecord{}, err
	}
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.PasswordHash == "" {
		return sessionauth.AccountRecord{}, sessionauth.ErrAccountCreationInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[username]; ok {
		return sessionauth.AccountRecord{}, sessionauth.ErrDuplicateUsername
	}
	if _, ok := m.byEmail[email]; ok {
		return sessionauth.AccountRecord{}, sessionauth.ErrDuplicateEmail
	}

	rec := sessionauth.AccountRecord{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    m.now().UTC(),
	}
	m.byID[rec.ID] = rec
	m.byUsername[username] = rec.ID
	m.byEmail[email] = rec.ID
	return rec, nil
}

// AccountByID returns the account with the given id or
// [sessionauth.ErrAccountNotFound].
func (m *Memory) AccountByID(ctx context.Context, id string) (sessionauth.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.AccountRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return sessionauth.AccountRecord{}, sessionauth.ErrAccountNotFound
	}
	return rec, nil
}

// AccountByUsername looks the account up by exact, trimmed username.
func (m *Memory) AccountByUsername(ctx context.Context, username string) (sessionauth.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.AccountRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(m.byUsername, strings.TrimSpace(username))
}

// AccountByEmail looks the account up by email, ignoring case.
func (m *Memory) AccountByEmail(ctx context.Context, email string) (sessionauth.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.AccountRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(m.byEmail, normalizeEmail(email))
}

func (m *Memory) lookupLocked(index map[string]string, key string) (sessionauth.AccountRecord, error) {
	id, ok := index[key]
	if !ok {
		return sessionauth.AccountRecord{}, sessionauth.ErrAccountNotFound
	}
	return m.byID[id], nil
}

// UpdatePasswordHash replaces the stored hash. The hash is stored as given.
func (m *Memory) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return sessionauth.ErrAccountNotFound
	}
	rec.PasswordHash = passwordHash
	m.byID[id] = rec
	return nil
}

// DeleteAccount removes the account and frees its username and email for
// reuse. Unknown ids return [sessionauth.ErrAccountNotFound].
func (m *Memory) DeleteAccount(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return sessionauth.ErrAccountNotFound
	}
	delete(m.byID, id)
	delete(m.byUsername, rec.Username)
	delete(m.byEmail, rec.Email)
	return nil
}

// Len returns the number of stored accounts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
