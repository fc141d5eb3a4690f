package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taskboard/sessionauth"
)

type refreshResultContextKey struct{}

// RefreshResultFromContext returns the result attached by [RequireRefresh].
func RefreshResultFromContext(ctx context.Context) (*sessionauth.RefreshResult, bool) {
	res, ok := ctx.Value(refreshResultContextKey{}).(*sessionauth.RefreshResult)
	return res, ok && res != nil
}

// RequireRefresh refreshes the session named by the x-refresh-token and _id
// headers and attaches the result and the account id to the request context.
//
// Rejected refresh tokens yield 401. A session store outage yields 503 so
// that clients do not mistake an infrastructure failure for a revoked
// session and log the user out.
func RequireRefresh(engine *sessionauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeUnauthorized(w)
				return
			}

			token := strings.TrimSpace(r.Header.Get(HeaderRefreshToken))
			accountID := strings.TrimSpace(r.Header.Get(HeaderAccountID))
			if token == "" || accountID == "" {
				writeUnauthorized(w)
				return
			}

			res, err := engine.AuthenticateRefresh(r.Context(), accountID, token)
			if err != nil {
				if errors.Is(err, sessionauth.ErrSessionStoreUnavailable) {
					writeError(w, http.StatusServiceUnavailable, "service unavailable")
					return
				}
				writeUnauthorized(w)
				return
			}

			ctx := WithAccountID(r.Context(), res.AccountID)
			ctx = context.WithValue(ctx, refreshResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
