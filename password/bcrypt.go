package password

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor used when none is configured.
	DefaultCost = 10
	// MinLength is the shortest accepted password in bytes.
	MinLength = 8
	// MaxLength is the longest password bcrypt can hash without truncation.
	MaxLength = 72
)

var (
	ErrTooShort = errors.New("password too short")
	ErrTooLong  = errors.New("password too long")
	// ErrInvalidHash is returned by Verify when the stored hash is not a
	// bcrypt hash.
	ErrInvalidHash = errors.New("invalid password hash")
)

// Bcrypt hashes passwords at a fixed cost. It is safe for concurrent use.
type Bcrypt struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcrypt returns a hasher with the given cost. A zero cost selects
// DefaultCost; other values outside bcrypt's range are rejected.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// CheckLength applies the length policy without hashing.
func CheckLength(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}

// Hash returns a salted bcrypt hash of password.
func (b *Bcrypt) Hash(password string) (string, error) {
	if err := CheckLength(password); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// an error means the hash itself is unusable.
func (b *Bcrypt) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}

// VerifyDummy burns the same time as a real Verify against a hash that never
// matches. Callers use it when the account does not exist so lookup timing
// does not reveal which usernames are registered.
func (b *Bcrypt) VerifyDummy(password string) {
	b.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("sessionauth-dummy-password"), b.cost)
		if err == nil {
			b.dummy = h
		}
	})
	if b.dummy == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(password))
}

// NeedsRehash reports whether hash was produced with a different cost.
func (b *Bcrypt) NeedsRehash(hash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return cost != b.cost, nil
}
