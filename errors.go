package sessionauth

import (
	"errors"

	"github.com/taskboard/sessionauth/jwt"
	"github.com/taskboard/sessionauth/refresh"
	"github.com/taskboard/sessionauth/session"
)

var (
	// ErrUnauthorized marks every authentication failure of a request. It is
	// always joined with the specific cause.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for any failed username/password
	// check. It never says which half was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by providers for unknown ids, usernames
	// or emails.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLoginRateLimited is returned when the login throttle denies an attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrDuplicateUsername is returned when the username is already registered.
	ErrDuplicateUsername = errors.New("username already registered")
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrAccountCreationInvalid is returned for malformed signup input.
	ErrAccountCreationInvalid = errors.New("invalid account creation request")
	// ErrAccountCreationUnavailable is returned when the provider fails for a
	// reason other than a duplicate.
	ErrAccountCreationUnavailable = errors.New("account creation backend unavailable")
	ErrPasswordPolicy             = errors.New("password policy violation")
	ErrPasswordReuse              = errors.New("new password must be different from current password")
	ErrPasswordResetDisabled      = errors.New("password reset disabled")
	ErrPasswordResetInvalid       = errors.New("password reset token invalid")
	ErrPasswordResetRateLimited   = errors.New("password reset rate limited")
	ErrPasswordResetUnavailable   = errors.New("password reset backend unavailable")
	// ErrSessionCreationFailed is returned when a session could not be
	// persisted. No token is handed out when this is returned.
	ErrSessionCreationFailed     = errors.New("session creation failed")
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrSessionNotFound is returned when the account holds no session for
	// the presented refresh token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the refresh token matched an
	// expired session. The session has been evicted.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionStoreUnavailable is returned when session lookups fail for
	// infrastructure reasons.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Access-token verification failures, re-exported from package jwt.
var (
	ErrTokenExpired          = jwt.ErrExpired
	ErrTokenInvalidSignature = jwt.ErrInvalidSignature
	ErrTokenMalformed        = jwt.ErrMalformed
	ErrSigningFailed         = jwt.ErrSigning
)

// ErrEntropyFailed is returned when the random source fails while minting a
// refresh token.
var ErrEntropyFailed = refresh.ErrEntropy

// mapSessionErr translates store failures into engine sentinels.
func mapSessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		return err
	default:
		return errors.Join(ErrSessionStoreUnavailable, err)
	}
}
