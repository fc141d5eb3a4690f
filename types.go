package sessionauth

import (
	"context"
	"time"

	"github.com/taskboard/sessionauth/session"
)

// AccountRecord is the full account as stored by an [AccountProvider]. It
// carries the password hash and must never be serialized to clients; use
// [AccountRecord.View] for that.
type AccountRecord struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// View returns the public projection of a.
func (a AccountRecord) View() AccountView {
	return AccountView{ID: a.ID, Username: a.Username, Email: a.Email}
}

// AccountView is the client-facing projection of an account. It has no
// password hash and no sessions.
type AccountView struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreateAccountInput is the input for [AccountProvider.CreateAccount]. The
// password is already hashed.
type CreateAccountInput struct {
	Username     string
	Email        string
	PasswordHash string
}

// AccountProvider persists accounts. Implementations must enforce username
// and email uniqueness themselves and report violations as
// [ErrDuplicateUsername] or [ErrDuplicateEmail]; lookups of unknown
// accounts return [ErrAccountNotFound]. Providers never hash passwords.
type AccountProvider interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (AccountRecord, error)
	AccountByID(ctx context.Context, id string) (AccountRecord, error)
	AccountByUsername(ctx context.Context, username string) (AccountRecord, error)
	AccountByEmail(ctx context.Context, email string) (AccountRecord, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	DeleteAccount(ctx context.Context, id string) error
}

// SessionStore persists refresh-token sessions per account. [session.Store]
// is the Redis implementation. Implementations must make every per-account
// mutation atomic so that concurrent logins never lose a session.
type SessionStore interface {
	Append(ctx context.Context, accountID, token string, expiresAt, now time.Time) error
	Find(ctx context.Context, accountID, token string, now time.Time) (session.Session, error)
	Rotate(ctx context.Context, accountID, oldToken, newToken string, expiresAt, now time.Time) error
	Remove(ctx context.Context, accountID, token string) (bool, error)
	RemoveAll(ctx context.Context, accountID string) error
	List(ctx context.Context, accountID string, now time.Time) ([]session.Session, error)
}

// ResetTokenSender delivers password-reset tokens, typically by email. The
// engine never logs the token; the sender owns its delivery.
type ResetTokenSender interface {
	SendResetToken(ctx context.Context, account AccountView, token string, expiresAt time.Time) error
}

// SignupRequest is the input for [Engine.Signup].
type SignupRequest struct {
	Username string
	Email    string
	Password string
}

// IssuedSession is returned by [Engine.Login] and [Engine.Signup]. The
// refresh token is only ever returned here; the store keeps its hash.
type IssuedSession struct {
	Account          AccountView
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult is returned by [Engine.Refresh]. RefreshToken is empty
// unless rotation is enabled, in which case the presented token is no longer
// valid.
type RefreshResult struct {
	AccountID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Rotated reports whether the refresh token was replaced.
func (r *RefreshResult) Rotated() bool {
	return r != nil && r.RefreshToken != ""
}

// SessionInfo describes one active session without exposing the token.
type SessionInfo struct {
	// ID is a short prefix of the token hash, stable for the session's life.
	ID        string
	ExpiresAt time.Time
}
