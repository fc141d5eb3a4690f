package sessionauth

import (
	"context"
	"errors"
)

// AuditErrorCode is the stable reason string recorded on failed events.
type AuditErrorCode string

const (
	auditErrUnauthorized          AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrTokenExpired          AuditErrorCode = "token_expired"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrSessionExpired        AuditErrorCode = "session_expired"
	auditErrAccountNotFound       AuditErrorCode = "account_not_found"
	auditErrPasswordPolicy        AuditErrorCode = "password_policy"
	auditErrPasswordReuse         AuditErrorCode = "password_reuse"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrSessionInvalidation   AuditErrorCode = "session_invalidation_failed"
	auditErrDuplicate             AuditErrorCode = "duplicate"
	auditErrInvalidInput          AuditErrorCode = "invalid_input"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	err error,
	attrs func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var m map[string]string
	if attrs != nil {
		m = attrs()
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		if m == nil {
			m = make(map[string]string, 2)
		}
		m["ip"] = ip
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if m == nil {
			m = make(map[string]string, 1)
		}
		m["user_agent"] = ua
	}

	event := AuditEvent{
		Type:      eventType,
		AccountID: accountID,
		Success:   success,
		Attrs:     m,
	}
	if code := auditErrorCode(err); code != "" {
		event.Reason = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrPasswordResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalidSignature),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrPasswordResetInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrDuplicateUsername),
		errors.Is(err, ErrDuplicateEmail):
		return auditErrDuplicate
	case errors.Is(err, ErrAccountCreationInvalid):
		return auditErrInvalidInput
	case errors.Is(err, ErrAccountCreationUnavailable),
		errors.Is(err, ErrPasswordResetUnavailable),
		errors.Is(err, ErrSessionStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	default:
		return auditErrInternal
	}
}
