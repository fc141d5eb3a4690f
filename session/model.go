package session

import "time"

// State is the lifecycle position of a session.
type State uint8

const (
	// StateIssued covers the window between token generation and the store
	// write. A token in this state is never handed to a client.
	StateIssued State = iota
	// StateActive sessions are present in the store and unexpired.
	StateActive
	// StateRotated sessions were replaced by a successor token.
	StateRotated
	// StateExpired sessions reached their expiry and are evicted on next lookup.
	StateExpired
	// StateRevoked sessions were removed by logout or account deletion.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Session is one stored refresh-token session. The token itself is never
// kept, only its hash.
type Session struct {
	TokenHash string
	ExpiresAt time.Time
}

// IsExpired reports whether expiresAt has been reached at now. Expiry has
// one-second resolution, matching what the store persists.
func IsExpired(expiresAt, now time.Time) bool {
	return now.Unix() >= expiresAt.Unix()
}

// State reports whether s is active or expired at now.
func (s Session) State(now time.Time) State {
	if IsExpired(s.ExpiresAt, now) {
		return StateExpired
	}
	return StateActive
}
