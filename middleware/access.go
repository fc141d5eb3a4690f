package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/taskboard/sessionauth"
)

// Header names shared with clients.
const (
	HeaderAccessToken  = "x-access-token"
	HeaderRefreshToken = "x-refresh-token"
	HeaderAccountID    = "_id"
)

type accountIDContextKey struct{}

// AccountIDFromContext returns the account id attached by [RequireAccess] or
// [RequireRefresh].
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDContextKey{}).(string)
	return id, ok && id != ""
}

// WithAccountID attaches an authenticated account id to ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDContextKey{}, accountID)
}

// RequireAccess rejects requests without a valid access token with 401. The
// token is read from x-access-token, falling back to an
// "Authorization: Bearer" header.
func RequireAccess(engine *sessionauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeUnauthorized(w)
				return
			}

			token, ok := accessToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			accountID, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

func accessToken(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(HeaderAccessToken)); token != "" {
		return token, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
