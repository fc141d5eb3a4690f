package sessionauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/taskboard/sessionauth/internal/rate"
	"github.com/taskboard/sessionauth/password"
	"github.com/taskboard/sessionauth/refresh"
)

// RequestPasswordReset mints a one-time reset token for the account with
// this email and hands it to the configured [ResetTokenSender]. Unknown
// emails are indistinguishable from known ones to the caller.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled || e.resetStore == nil {
		return ErrPasswordResetDisabled
	}

	email = normalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)

	if email != "" && e.limiter != nil {
		if err := e.limiter.AllowResetRequest(ctx, email); err != nil {
			err = mapPasswordResetLimiterError(err)
			e.emitAudit(ctx, AuditPasswordResetRequest, false, "", err, nil)
			return err
		}
	}

	account, err := e.accounts.AccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			err = errors.Join(ErrPasswordResetUnavailable, err)
			e.emitAudit(ctx, AuditPasswordResetRequest, false, "", err, nil)
			return err
		}
		e.emitAudit(ctx, AuditPasswordResetRequest, false, "", ErrAccountNotFound, nil)
		return sleepPasswordResetEnumerationDelay(ctx)
	}

	token, err := refresh.Generate()
	if err != nil {
		return errors.Join(ErrPasswordResetUnavailable, err)
	}
	ttl := e.config.PasswordReset.ResetTTL
	expiresAt := e.now().Add(ttl)
	if err := e.resetStore.Issue(ctx, account.ID, token, ttl); err != nil {
		err = errors.Join(ErrPasswordResetUnavailable, err)
		e.emitAudit(ctx, AuditPasswordResetRequest, false, account.ID, err, nil)
		return err
	}

	// Delivery failures are logged, not returned, so the response does not
	// depend on whether the email is registered.
	if err := e.resetSender.SendResetToken(ctx, account.View(), token, expiresAt); err != nil {
		e.logger.ErrorContext(ctx, "sessionauth: reset token delivery failed",
			"account_id", account.ID, "error", err)
		e.emitAudit(ctx, AuditPasswordResetRequest, false, account.ID, ErrPasswordResetUnavailable, nil)
		return nil
	}

	e.emitAudit(ctx, AuditPasswordResetRequest, true, account.ID, nil, nil)
	return nil
}

// ConfirmPasswordReset consumes token and sets the new password. A token
// works at most once. Sessions are revoked only when
// PasswordReset.RevokeSessions is set.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled || e.resetStore == nil {
		return ErrPasswordResetDisabled
	}

	if !refresh.Valid(token) {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, AuditPasswordResetConfirm, false, "", ErrPasswordResetInvalid, nil)
		return ErrPasswordResetInvalid
	}
	// Policy is checked before consuming so a rejected password does not
	// burn the token.
	if err := password.CheckLength(newPassword); err != nil {
		err = fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, AuditPasswordResetConfirm, false, "", err, nil)
		return err
	}

	accountID, err := e.resetStore.Consume(ctx, token)
	if err != nil {
		err = mapPasswordResetStoreError(err)
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, AuditPasswordResetConfirm, false, "", err, nil)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return errors.Join(ErrPasswordResetUnavailable, err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			err = ErrPasswordResetInvalid
		} else {
			err = errors.Join(ErrPasswordResetUnavailable, err)
		}
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, AuditPasswordResetConfirm, false, accountID, err, nil)
		return err
	}

	if e.config.PasswordReset.RevokeSessions {
		if err := e.sessions.RemoveAll(ctx, accountID); err != nil {
			err = errors.Join(ErrSessionInvalidationFailed, err)
			e.metricInc(MetricPasswordResetConfirmFailure)
			e.emitAudit(ctx, AuditPasswordResetConfirm, false, accountID, err, nil)
			return err
		}
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, AuditPasswordResetConfirm, true, accountID, nil, nil)
	return nil
}

func mapPasswordResetLimiterError(err error) error {
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return ErrPasswordResetRateLimited
	default:
		return errors.Join(ErrPasswordResetUnavailable, err)
	}
}

func mapPasswordResetStoreError(err error) error {
	switch {
	case errors.Is(err, errResetNotFound):
		return ErrPasswordResetInvalid
	default:
		return errors.Join(ErrPasswordResetUnavailable, err)
	}
}

// sleepPasswordResetEnumerationDelay pads the unknown-email path by a random
// 20-40ms, roughly the cost of issuing and storing a token.
func sleepPasswordResetEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return nil
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
