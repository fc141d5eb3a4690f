package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/taskboard/sessionauth/password"
)

func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (e *Engine) validateSignup(username, email string) error {
	n := utf8.RuneCountInString(username)
	if n < e.config.Account.MinUsernameLength || n > e.config.Account.MaxUsernameLength {
		return fmt.Errorf("%w: username length", ErrAccountCreationInvalid)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: username characters", ErrAccountCreationInvalid)
		}
	}
	if email == "" || len(email) > e.config.Account.MaxEmailLength {
		return fmt.Errorf("%w: email length", ErrAccountCreationInvalid)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email format", ErrAccountCreationInvalid)
	}
	return nil
}

// UsernameAvailable reports whether no account uses username.
func (e *Engine) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	username = normalizeUsername(username)
	if username == "" {
		return false, ErrAccountCreationInvalid
	}
	_, err := e.accounts.AccountByUsername(ctx, username)
	return availability(err)
}

// EmailAvailable reports whether no account uses email. Emails compare
// case-insensitively.
func (e *Engine) EmailAvailable(ctx context.Context, email string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return false, ErrAccountCreationInvalid
	}
	_, err := e.accounts.AccountByEmail(ctx, email)
	return availability(err)
}

func availability(lookupErr error) (bool, error) {
	switch {
	case lookupErr == nil:
		return false, nil
	case errors.Is(lookupErr, ErrAccountNotFound):
		return true, nil
	default:
		return false, errors.Join(ErrAccountCreationUnavailable, lookupErr)
	}
}

// Account returns the public view of the account.
func (e *Engine) Account(ctx context.Context, accountID string) (AccountView, error) {
	if !e.ready() {
		return AccountView{}, ErrEngineNotReady
	}
	if accountID == "" {
		return AccountView{}, ErrAccountNotFound
	}
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	return account.View(), nil
}

// ChangePassword replaces the password after verifying the current one.
// Existing sessions survive unless Security.RevokeSessionsOnPasswordChange
// is set.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return ErrAccountNotFound
	}
	if err := password.CheckLength(newPassword); err != nil {
		err = fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
		e.emitAudit(ctx, AuditPasswordChange, false, accountID, err, nil)
		return err
	}
	if oldPassword == newPassword {
		e.emitAudit(ctx, AuditPasswordChange, false, accountID, ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, AuditPasswordChange, false, accountID, err, nil)
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, AuditPasswordChange, false, accountID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		e.emitAudit(ctx, AuditPasswordChange, false, accountID, err, nil)
		return err
	}

	if e.config.Security.RevokeSessionsOnPasswordChange {
		if err := e.sessions.RemoveAll(ctx, accountID); err != nil {
			err = errors.Join(ErrSessionInvalidationFailed, err)
			e.emitAudit(ctx, AuditPasswordChange, false, accountID, err, nil)
			return err
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditPasswordChange, true, accountID, nil, nil)
	return nil
}
