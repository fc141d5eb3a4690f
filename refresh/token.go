package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// TokenBytes is the number of random bytes in a refresh token.
	TokenBytes = 64
	// TokenLength is the encoded length of a refresh token.
	TokenLength = TokenBytes * 2
)

// ErrEntropy is returned when the random source fails. No token is produced.
var ErrEntropy = errors.New("refresh token entropy unavailable")

// Generate returns a new refresh token read from crypto/rand.
func Generate() (string, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom returns a new refresh token read from r. A short read is an
// error; a partially random token is never returned.
func GenerateFrom(r io.Reader) (string, error) {
	var raw [TokenBytes]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Hash returns the hex SHA-256 of token. This is the only form that is
// persisted.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether token has the shape of a generated refresh token.
func Valid(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
