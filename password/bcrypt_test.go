package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Bcrypt {
	t.Helper()
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Fatalf("unexpected bcrypt prefix: %s", hash)
	}

	ok, err := hasher.Verify("correct-horse", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-horse", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestSamePasswordDifferentHashes(t *testing.T) {
	hasher := newTestHasher(t)

	a, err := hasher.Hash("shared-secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := hasher.Hash("shared-secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct salted hashes")
	}
}

func TestHashLengthPolicy(t *testing.T) {
	hasher := newTestHasher(t)

	if _, err := hasher.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("x", MaxLength+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("x", MaxLength)); err != nil {
		t.Fatalf("expected max length password to hash, got %v", err)
	}
}

func TestVerifyInvalidHash(t *testing.T) {
	hasher := newTestHasher(t)

	ok, err := hasher.Verify("whatever-pass", "not-a-hash")
	if ok {
		t.Fatal("expected invalid hash to not verify")
	}
	if !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	low := newTestHasher(t)
	hash, err := low.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if needs, err := low.NeedsRehash(hash); err != nil || needs {
		t.Fatalf("expected no rehash at same cost, got %v %v", needs, err)
	}

	higher, err := NewBcrypt(bcrypt.MinCost + 1)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	if needs, err := higher.NeedsRehash(hash); err != nil || !needs {
		t.Fatalf("expected rehash at different cost, got %v %v", needs, err)
	}
}

func TestNewBcryptDefaultsAndBounds(t *testing.T) {
	h, err := NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt(0) error: %v", err)
	}
	if h.Cost() != DefaultCost {
		t.Fatalf("expected default cost %d, got %d", DefaultCost, h.Cost())
	}
	if _, err := NewBcrypt(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected out of range cost to fail")
	}
	if _, err := NewBcrypt(1); err == nil {
		t.Fatal("expected cost below minimum to fail")
	}
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	hasher := newTestHasher(t)
	hasher.VerifyDummy("anything")
	hasher.VerifyDummy("anything-else")
}
