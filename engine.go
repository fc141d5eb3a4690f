package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/taskboard/sessionauth/internal/audit"
	"github.com/taskboard/sessionauth/internal/rate"
	"github.com/taskboard/sessionauth/jwt"
	"github.com/taskboard/sessionauth/password"
	"github.com/taskboard/sessionauth/refresh"
)

// sessionIDLength is how much of the token hash [SessionInfo.ID] exposes.
const sessionIDLength = 12

// Engine issues, refreshes and revokes sessions. It is safe for concurrent
// use; all shared state lives in Redis and the account provider.
type Engine struct {
	config      Config
	sessions    SessionStore
	accounts    AccountProvider
	jwt         *jwt.Manager
	hasher      *password.Bcrypt
	limiter     *rate.Limiter
	resetStore  *passwordResetStore
	resetSender ResetTokenSender
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters. Disabled
// metrics yield empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.accounts != nil && e.sessions != nil && e.jwt != nil && e.hasher != nil
}

/*
====================================
LOGIN
====================================
*/

// Login checks username and password and opens a new session. Every
// credential failure is reported as [ErrInvalidCredentials]; when the login
// throttle is enabled, exhausted budgets yield [ErrLoginRateLimited].
func (e *Engine) Login(ctx context.Context, username, pw string) (*IssuedSession, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	username = normalizeUsername(username)
	ip := clientIPFromContext(ctx)

	if e.loginThrottled() {
		if err := e.limiter.CheckLogin(ctx, username, ip); err != nil {
			return nil, e.loginRateLimited(ctx, username, err)
		}
	}

	account, err := e.FindAccountByPassword(ctx, username, pw)
	if err != nil {
		if e.loginThrottled() {
			if err := e.limiter.IncrementLogin(ctx, username, ip); err != nil {
				return nil, e.loginRateLimited(ctx, username, err)
			}
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, "", err, func() map[string]string {
			return map[string]string{"username": username}
		})
		return nil, err
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, account, pw)
	}

	issued, err := e.issueSession(ctx, *account)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, account.ID, err, nil)
		return nil, err
	}

	if e.loginThrottled() {
		if err := e.limiter.ResetLogin(ctx, username, ip); err != nil {
			e.logger.WarnContext(ctx, "sessionauth: login throttle reset failed", "error", err)
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLogin, true, account.ID, nil, nil)
	return issued, nil
}

func (e *Engine) loginThrottled() bool {
	return e.limiter != nil && e.config.Security.EnableLoginThrottle
}

func (e *Engine) loginRateLimited(ctx context.Context, username string, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		e.logger.WarnContext(ctx, "sessionauth: login throttle unavailable", "error", err)
	}
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, AuditLogin, false, "", ErrLoginRateLimited, func() map[string]string {
		return map[string]string{"username": username}
	})
	return ErrLoginRateLimited
}

// upgradePasswordHash rehashes at the configured cost. It never fails the
// login.
func (e *Engine) upgradePasswordHash(ctx context.Context, account *AccountRecord, pw string) {
	needs, err := e.hasher.NeedsRehash(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.WarnContext(ctx, "sessionauth: password hash upgrade generation failed", "error", err)
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, upgraded); err != nil {
		e.logger.WarnContext(ctx, "sessionauth: password hash upgrade update failed",
			"account_id", account.ID, "error", err)
		return
	}
	account.PasswordHash = upgraded
}

// FindAccountByPassword looks the account up by username and compares the
// password in constant time. Unknown usernames still pay for one bcrypt
// comparison. Every failure is [ErrInvalidCredentials].
func (e *Engine) FindAccountByPassword(ctx context.Context, username, pw string) (*AccountRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	username = normalizeUsername(username)

	account, err := e.accounts.AccountByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			e.logger.WarnContext(ctx, "sessionauth: account lookup failed", "error", err)
		}
		e.hasher.VerifyDummy(pw)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pw, account.PasswordHash)
	if err != nil {
		e.logger.WarnContext(ctx, "sessionauth: stored password hash unusable",
			"account_id", account.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &account, nil
}

/*
====================================
SIGNUP
====================================
*/

// Signup validates req, stores the account and opens its first session.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*IssuedSession, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	username := normalizeUsername(req.Username)
	email := normalizeEmail(req.Email)
	if err := e.validateSignup(username, email); err != nil {
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, AuditSignup, false, "", err, nil)
		return nil, err
	}
	if err := password.CheckLength(req.Password); err != nil {
		err = fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, AuditSignup, false, "", err, nil)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		e.metricInc(MetricSignupFailure)
		return nil, errors.Join(ErrAccountCreationUnavailable, err)
	}

	account, err := e.accounts.CreateAccount(ctx, CreateAccountInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUsername) || errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricSignupDuplicate)
		} else {
			err = errors.Join(ErrAccountCreationUnavailable, err)
			e.metricInc(MetricSignupFailure)
		}
		e.emitAudit(ctx, AuditSignup, false, "", err, nil)
		return nil, err
	}

	issued, err := e.issueSession(ctx, account)
	if err != nil {
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, AuditSignup, false, account.ID, err, nil)
		return nil, err
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, AuditSignup, true, account.ID, nil, nil)
	return issued, nil
}

/*
====================================
ISSUANCE
====================================
*/

// issueSession persists a fresh refresh token before signing the access
// token. No token leaves this function unless the session write succeeded.
func (e *Engine) issueSession(ctx context.Context, account AccountRecord) (*IssuedSession, error) {
	token, err := refresh.Generate()
	if err != nil {
		e.metricInc(MetricSessionCreateFailed)
		return nil, errors.Join(ErrSessionCreationFailed, err)
	}

	now := e.now()
	refreshExpiresAt := now.Add(e.config.Session.RefreshTTL)
	if err := e.sessions.Append(ctx, account.ID, token, refreshExpiresAt, now); err != nil {
		e.metricInc(MetricSessionCreateFailed)
		return nil, errors.Join(ErrSessionCreationFailed, err)
	}

	access, accessExpiresAt, err := e.jwt.CreateAccess(account.ID)
	if err != nil {
		if _, rmErr := e.sessions.Remove(ctx, account.ID, token); rmErr != nil {
			e.logger.WarnContext(ctx, "sessionauth: orphaned session cleanup failed",
				"account_id", account.ID, "error", rmErr)
		}
		e.metricInc(MetricSessionCreateFailed)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	return &IssuedSession{
		Account:          account.View(),
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     token,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a refresh token for a new access token. It fails with
// [ErrSessionNotFound] or [ErrSessionExpired]; an expired session is evicted
// and nothing is issued. A session whose account record no longer exists is
// [ErrSessionNotFound]. With RotateOnRefresh the presented token is replaced
// atomically and the new one returned.
func (e *Engine) Refresh(ctx context.Context, accountID, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if accountID == "" || !refresh.Valid(refreshToken) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditRefresh, false, accountID, ErrSessionNotFound, nil)
		return nil, ErrSessionNotFound
	}

	var (
		result *RefreshResult
		err    error
	)
	if e.config.Session.RotateOnRefresh {
		result, err = e.refreshRotating(ctx, accountID, refreshToken)
	} else {
		result, err = e.refreshInPlace(ctx, accountID, refreshToken)
	}
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			e.metricInc(MetricRefreshExpired)
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditRefresh, false, accountID, err, nil)
		return nil, err
	}

	if result.Rotated() {
		e.metricInc(MetricRefreshRotated)
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditRefresh, true, accountID, nil, func() map[string]string {
		if result.Rotated() {
			return map[string]string{"rotated": "true"}
		}
		return nil
	})
	return result, nil
}

func (e *Engine) refreshInPlace(ctx context.Context, accountID, token string) (*RefreshResult, error) {
	if _, err := e.sessions.Find(ctx, accountID, token, e.now()); err != nil {
		return nil, mapSessionErr(err)
	}
	if err := e.requireAccount(ctx, accountID); err != nil {
		return nil, err
	}
	access, accessExpiresAt, err := e.jwt.CreateAccess(accountID)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		AccountID:       accountID,
		AccessToken:     access,
		AccessExpiresAt: accessExpiresAt,
	}, nil
}

// refreshRotating signs first so that a signing failure never consumes the
// presented token.
func (e *Engine) refreshRotating(ctx context.Context, accountID, token string) (*RefreshResult, error) {
	if err := e.requireAccount(ctx, accountID); err != nil {
		return nil, err
	}
	access, accessExpiresAt, err := e.jwt.CreateAccess(accountID)
	if err != nil {
		return nil, err
	}
	next, err := refresh.Generate()
	if err != nil {
		return nil, errors.Join(ErrSessionCreationFailed, err)
	}

	now := e.now()
	refreshExpiresAt := now.Add(e.config.Session.RefreshTTL)
	if err := e.sessions.Rotate(ctx, accountID, token, next, refreshExpiresAt, now); err != nil {
		return nil, mapSessionErr(err)
	}
	return &RefreshResult{
		AccountID:        accountID,
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     next,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// requireAccount fails with [ErrSessionNotFound] once the account record is
// gone, dropping whatever sessions a racing login left behind.
func (e *Engine) requireAccount(ctx context.Context, accountID string) error {
	_, err := e.accounts.AccountByID(ctx, accountID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		e.logger.WarnContext(ctx, "sessionauth: account lookup failed", "account_id", accountID, "error", err)
		return err
	}
	if rmErr := e.sessions.RemoveAll(ctx, accountID); rmErr != nil {
		e.logger.WarnContext(ctx, "sessionauth: orphaned session cleanup failed",
			"account_id", accountID, "error", rmErr)
	}
	return ErrSessionNotFound
}

// FindAccountBySessionToken returns the account that holds an unexpired
// session for token.
func (e *Engine) FindAccountBySessionToken(ctx context.Context, accountID, token string) (*AccountRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if accountID == "" || !refresh.Valid(token) {
		return nil, ErrSessionNotFound
	}
	if _, err := e.sessions.Find(ctx, accountID, token, e.now()); err != nil {
		return nil, mapSessionErr(err)
	}
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate verifies an access token and returns its account id. It does
// not touch Redis or the account provider. Failures match both
// [ErrUnauthorized] and one of [ErrTokenExpired], [ErrTokenInvalidSignature]
// or [ErrTokenMalformed].
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (string, error) {
	if e == nil || e.jwt == nil {
		return "", ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}()
	}

	accountID, err := e.jwt.VerifyAccess(accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			e.metricInc(MetricAuthenticateExpired)
		}
		e.metricInc(MetricAuthenticateFailure)
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	e.metricInc(MetricAuthenticateSuccess)
	return accountID, nil
}

// AuthenticateRefresh is [Engine.Refresh] for request middleware: every
// failure also matches [ErrUnauthorized].
func (e *Engine) AuthenticateRefresh(ctx context.Context, accountID, refreshToken string) (*RefreshResult, error) {
	result, err := e.Refresh(ctx, accountID, refreshToken)
	if err != nil {
		if errors.Is(err, ErrEngineNotReady) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return result, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout removes the session for refreshToken. Logging out twice, or with a
// token the account never held, is not an error.
func (e *Engine) Logout(ctx context.Context, accountID, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accountID == "" || refreshToken == "" {
		return nil
	}

	removed, err := e.sessions.Remove(ctx, accountID, refreshToken)
	if err != nil {
		err = errors.Join(ErrSessionInvalidationFailed, err)
		e.emitAudit(ctx, AuditLogout, false, accountID, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, true, accountID, nil, func() map[string]string {
		if removed {
			return nil
		}
		return map[string]string{"noop": "true"}
	})
	return nil
}

// LogoutAll removes every session of the account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return nil
	}
	if err := e.sessions.RemoveAll(ctx, accountID); err != nil {
		err = errors.Join(ErrSessionInvalidationFailed, err)
		e.emitAudit(ctx, AuditLogoutAll, false, accountID, err, nil)
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, accountID, nil, nil)
	return nil
}

// DeleteAccount deletes the account record and then revokes all of its
// sessions. Sessions are revoked even when the record was already gone. A
// session that survives a failed revocation can no longer refresh, since
// Refresh requires the record.
func (e *Engine) DeleteAccount(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return ErrAccountNotFound
	}
	deleteErr := e.accounts.DeleteAccount(ctx, accountID)
	if deleteErr != nil && !errors.Is(deleteErr, ErrAccountNotFound) {
		e.emitAudit(ctx, AuditAccountDeleted, false, accountID, deleteErr, nil)
		return deleteErr
	}
	if err := e.sessions.RemoveAll(ctx, accountID); err != nil {
		err = errors.Join(ErrSessionInvalidationFailed, err)
		e.emitAudit(ctx, AuditAccountDeleted, false, accountID, err, nil)
		return err
	}
	if deleteErr != nil {
		e.emitAudit(ctx, AuditAccountDeleted, false, accountID, deleteErr, nil)
		return deleteErr
	}
	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, AuditAccountDeleted, true, accountID, nil, nil)
	return nil
}

// ActiveSessions lists the unexpired sessions of the account, soonest expiry
// first. Token hashes are truncated to a short identifier.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.List(ctx, accountID, e.now())
	if err != nil {
		return nil, mapSessionErr(err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		id := s.TokenHash
		if len(id) > sessionIDLength {
			id = id[:sessionIDLength]
		}
		out = append(out, SessionInfo{ID: id, ExpiresAt: s.ExpiresAt})
	}
	return out, nil
}
