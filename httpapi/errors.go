package httpapi

import (
	"errors"
	"net/http"

	"github.com/taskboard/sessionauth"
)

type errorMapping struct {
	target error
	status int
	msg    string
}

// Order matters: the first match wins. Wrapped infrastructure errors are
// listed after the client-facing sentinels they may be joined with.
var errorMappings = []errorMapping{
	{sessionauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
	{sessionauth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{sessionauth.ErrLoginRateLimited, http.StatusTooManyRequests, "too many attempts"},
	{sessionauth.ErrPasswordResetRateLimited, http.StatusTooManyRequests, "too many requests"},
	{sessionauth.ErrDuplicateUsername, http.StatusConflict, "username already registered"},
	{sessionauth.ErrDuplicateEmail, http.StatusConflict, "email already registered"},
	{sessionauth.ErrAccountCreationInvalid, http.StatusBadRequest, "invalid signup request"},
	{sessionauth.ErrPasswordPolicy, http.StatusBadRequest, "password does not meet policy"},
	{sessionauth.ErrPasswordReuse, http.StatusBadRequest, "new password must differ from current password"},
	{sessionauth.ErrPasswordResetInvalid, http.StatusBadRequest, "invalid or expired reset token"},
	{sessionauth.ErrPasswordResetDisabled, http.StatusNotFound, "not found"},
	{sessionauth.ErrAccountNotFound, http.StatusNotFound, "not found"},
	{sessionauth.ErrSessionNotFound, http.StatusUnauthorized, "unauthorized"},
	{sessionauth.ErrSessionExpired, http.StatusUnauthorized, "unauthorized"},
	{sessionauth.ErrAccountCreationUnavailable, http.StatusServiceUnavailable, "service unavailable"},
	{sessionauth.ErrSessionCreationFailed, http.StatusServiceUnavailable, "service unavailable"},
	{sessionauth.ErrSessionInvalidationFailed, http.StatusServiceUnavailable, "service unavailable"},
	{sessionauth.ErrSessionStoreUnavailable, http.StatusServiceUnavailable, "service unavailable"},
	{sessionauth.ErrPasswordResetUnavailable, http.StatusServiceUnavailable, "service unavailable"},
}

// statusFor maps an engine error to an HTTP status and a generic message.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, "internal error"
}
