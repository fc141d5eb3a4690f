package sessionauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type mockAccountProvider struct {
	mu       sync.Mutex
	accounts map[string]AccountRecord
	nextID   int

	createErr error
	lookupErr error
	updateErr error

	createCalls int
	lookupCalls int
	updateCalls int
	deleteCalls int

	// afterUsernameLookup runs once a username lookup returns, outside the lock.
	afterUsernameLookup func(AccountRecord)
}

func newMockAccountProvider() *mockAccountProvider {
	return &mockAccountProvider{accounts: make(map[string]AccountRecord)}
}

func (m *mockAccountProvider) CreateAccount(_ context.Context, input CreateAccountInput) (AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return AccountRecord{}, m.createErr
	}
	for _, a := range m.accounts {
		if a.Username == input.Username {
			return AccountRecord{}, ErrDuplicateUsername
		}
		if strings.EqualFold(a.Email, input.Email) {
			return AccountRecord{}, ErrDuplicateEmail
		}
	}

	m.nextID++
	rec := AccountRecord{
		ID:           "acct-" + strconv.Itoa(m.nextID),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[rec.ID] = rec
	return rec, nil
}

func (m *mockAccountProvider) AccountByID(_ context.Context, id string) (AccountRecord, error) {
	return m.find(func(a AccountRecord) bool { return a.ID == id })
}

func (m *mockAccountProvider) AccountByUsername(_ context.Context, username string) (AccountRecord, error) {
	rec, err := m.find(func(a AccountRecord) bool { return a.Username == username })
	if hook := m.afterUsernameLookup; hook != nil && err == nil {
		hook(rec)
	}
	return rec, err
}

func (m *mockAccountProvider) AccountByEmail(_ context.Context, email string) (AccountRecord, error) {
	return m.find(func(a AccountRecord) bool { return strings.EqualFold(a.Email, email) })
}

func (m *mockAccountProvider) find(match func(AccountRecord) bool) (AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++

	if m.lookupErr != nil {
		return AccountRecord{}, m.lookupErr
	}
	for _, a := range m.accounts {
		if match(a) {
			return a, nil
		}
	}
	return AccountRecord{}, ErrAccountNotFound
}

func (m *mockAccountProvider) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	if m.updateErr != nil {
		return m.updateErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	m.accounts[id] = a
	return nil
}

func (m *mockAccountProvider) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++

	if _, ok := m.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *mockAccountProvider) hashOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].PasswordHash
}

func (m *mockAccountProvider) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls, m.lookupCalls, m.updateCalls, m.deleteCalls = 0, 0, 0, 0
}

func (m *mockAccountProvider) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls + m.lookupCalls + m.updateCalls + m.deleteCalls
}

type sentReset struct {
	account   AccountView
	token     string
	expiresAt time.Time
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (s *recordingSender) SendResetToken(_ context.Context, account AccountView, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentReset{account: account, token: token, expiresAt: expiresAt})
	return nil
}

func (s *recordingSender) last(t *testing.T) sentReset {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected a reset token to be sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineHarness struct {
	engine   *Engine
	provider *mockAccountProvider
	sender   *recordingSender
	clock    *testClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	done     func()
}

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.PasswordReset.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// newEngineHarness builds an Engine on miniredis and a mock provider. mutate
// may adjust the config before Build.
func newEngineHarness(t testing.TB, mutate func(*Config)) *engineHarness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := engineTestConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &engineHarness{
		provider: newMockAccountProvider(),
		sender:   &recordingSender{},
		clock:    &testClock{now: time.Now()},
		mr:       mr,
		rdb:      rdb,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(h.provider).
		WithResetSender(h.sender).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("build engine: %v", err)
	}
	h.engine = engine
	h.done = func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
	return h
}

func (h *engineHarness) signup(t testing.TB, username, email, pw string) *IssuedSession {
	t.Helper()
	issued, err := h.engine.Signup(context.Background(), SignupRequest{
		Username: username,
		Email:    email,
		Password: pw,
	})
	if err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	return issued
}

func (h *engineHarness) sessionCount(t *testing.T, accountID string) int64 {
	t.Helper()
	n, err := h.rdb.HLen(context.Background(), h.engine.config.Session.RedisPrefix+":"+accountID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		t.Fatalf("hlen: %v", err)
	}
	return n
}
