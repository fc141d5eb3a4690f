package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHSManager(t *testing.T, clock *testClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-signing-secret-0123456789"),
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestCreateAndVerifyRoundTrip(t *testing.T) {
	clock := newTestClock()
	m := newHSManager(t, clock)

	token, exp, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("expected expiry now+1h, got %v", exp)
	}

	id, err := m.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if id != "acct-1" {
		t.Fatalf("expected acct-1, got %q", id)
	}
}

func TestCreateAccessTokensAreDistinctWithinOneSecond(t *testing.T) {
	clock := newTestClock()
	m := newHSManager(t, clock)

	first, _, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	second, _, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens for the same account and instant")
	}

	a, err := m.ParseAccess(first)
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	b, err := m.ParseAccess(second)
	if err != nil {
		t.Fatalf("parse second: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique jti values, got %q and %q", a.ID, b.ID)
	}
}

func TestAccessTokenValidForFullTTLThenExpired(t *testing.T) {
	clock := newTestClock()
	m := newHSManager(t, clock)

	token, _, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	clock.Advance(time.Hour - time.Second)
	if _, err := m.VerifyAccess(token); err != nil {
		t.Fatalf("expected token valid just before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	_, err = m.VerifyAccess(token)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at expiry, got %v", err)
	}
}

func TestParseAccessClassifiesFailures(t *testing.T) {
	clock := newTestClock()
	m := newHSManager(t, clock)

	other, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-entirely-000000"),
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forged, _, err := other.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create forged: %v", err)
	}

	valid, _, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create valid: %v", err)
	}
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMalformed},
		{name: "garbage", token: "not-a-token", want: ErrMalformed},
		{name: "three garbage segments", token: "a.b.c", want: ErrMalformed},
		{name: "foreign key", token: forged, want: ErrInvalidSignature},
		{name: "tampered payload", token: tampered, want: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ParseAccess(tt.token)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{UID: "acct-1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong algorithm to be rejected as invalid signature, got %v", err)
	}
}

func TestParseAccessRejectsMissingUID(t *testing.T) {
	secret := []byte("test-signing-secret-0123456789")
	m, err := NewManager(Config{AccessTTL: time.Minute, PrivateKey: secret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	token, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing uid, got %v", err)
	}
}

func TestParseAccessIssuerAudience(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "sessionauth",
		Audience:      "board-api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	wrongIssuer := AccessClaims{UID: "acct-1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"board-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	badIssuer, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongIssuer).SignedString(priv)
	if _, err := m.ParseAccess(badIssuer); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong issuer to fail, got %v", err)
	}

	wrongAudience := AccessClaims{UID: "acct-1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "sessionauth",
		Audience:  gjwt.ClaimStrings{"other-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	badAudience, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongAudience).SignedString(priv)
	if _, err := m.ParseAccess(badAudience); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong audience to fail, got %v", err)
	}
}

func TestKeyRotationAcceptsPreviousKid(t *testing.T) {
	clock := newTestClock()
	oldSecret := []byte("old-signing-secret-0000000000")
	newSecret := []byte("new-signing-secret-1111111111")

	oldMgr, err := NewManager(Config{
		AccessTTL:  time.Hour,
		PrivateKey: oldSecret,
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k1": oldSecret},
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	oldToken, _, err := oldMgr.CreateAccess("acct-1")
	if err != nil {
		t.Fatalf("create old token: %v", err)
	}

	newMgr, err := NewManager(Config{
		AccessTTL:  time.Hour,
		PrivateKey: newSecret,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": oldSecret, "k2": newSecret},
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := newMgr.VerifyAccess(oldToken); err != nil {
		t.Fatalf("expected token under previous kid to verify, got %v", err)
	}

	newToken, _, err := newMgr.CreateAccess("acct-2")
	if err != nil {
		t.Fatalf("create new token: %v", err)
	}
	if _, err := oldMgr.VerifyAccess(newToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected unknown kid to be rejected, got %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, _ := newEdKeys(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero ttl", cfg: Config{PrivateKey: []byte("k")}},
		{name: "hs256 without key", cfg: Config{AccessTTL: time.Minute}},
		{name: "ed25519 without private key", cfg: Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub}},
		{name: "unknown method", cfg: Config{AccessTTL: time.Minute, SigningMethod: "rs512", PrivateKey: []byte("k")}},
		{name: "leeway too large", cfg: Config{AccessTTL: time.Minute, PrivateKey: []byte("k"), Leeway: time.Hour}},
		{name: "kid missing from verify keys", cfg: Config{AccessTTL: time.Minute, PrivateKey: []byte("k"), KeyID: "k9", VerifyKeys: map[string][]byte{"k1": []byte("k")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}
