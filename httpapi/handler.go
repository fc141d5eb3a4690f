package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/taskboard/sessionauth"
	"github.com/taskboard/sessionauth/middleware"
)

const defaultMaxBodyBytes = 1 << 20

// Handler routes the account API to an [sessionauth.Engine].
type Handler struct {
	engine       *sessionauth.Engine
	logger       *slog.Logger
	mux          *http.ServeMux
	cors         CORSConfig
	trustProxy   bool
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for server-side failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCORS enables CORS for the given configuration.
func WithCORS(cfg CORSConfig) Option {
	return func(h *Handler) {
		h.cors = cfg
	}
}

// WithTrustProxyHeaders makes the handler take the client IP from the first
// X-Forwarded-For entry. Only enable behind a proxy that overwrites it.
func WithTrustProxyHeaders(trust bool) Option {
	return func(h *Handler) {
		h.trustProxy = trust
	}
}

// WithMaxBodyBytes limits request bodies (default 1 MiB).
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New builds the Handler and registers every route.
func New(engine *sessionauth.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:       engine,
		logger:       slog.Default(),
		mux:          http.NewServeMux(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	access := middleware.RequireAccess(h.engine)
	refresh := middleware.RequireRefresh(h.engine)

	h.mux.HandleFunc("POST /users", h.signup)
	h.mux.HandleFunc("POST /users/login", h.login)
	h.mux.Handle("GET /users/me/access-token", refresh(http.HandlerFunc(h.refresh)))
	h.mux.HandleFunc("DELETE /users/session", h.logout)
	h.mux.Handle("DELETE /users/sessions", access(http.HandlerFunc(h.logoutAll)))
	h.mux.Handle("GET /users/me", access(http.HandlerFunc(h.me)))
	h.mux.Handle("GET /users/me/sessions", access(http.HandlerFunc(h.sessions)))
	h.mux.Handle("PUT /users/me/password", access(http.HandlerFunc(h.changePassword)))
	h.mux.Handle("DELETE /users/me", access(http.HandlerFunc(h.deleteAccount)))
	h.mux.HandleFunc("GET /users/check-username/{username}", h.checkUsername)
	h.mux.HandleFunc("GET /users/check-email/{email}", h.checkEmail)
	// {field} rather than a literal keeps this pattern strictly less specific
	// than check-username/{username}.
	h.mux.Handle("GET /users/{id}/{field}", access(http.HandlerFunc(h.username)))
	h.mux.HandleFunc("POST /send-email", h.requestPasswordReset)
	h.mux.HandleFunc("POST /reset-password", h.resetPassword)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cors.enabled() {
		h.cors.apply(w, r)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	r = r.WithContext(h.requestContext(r))
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	ctx = sessionauth.WithClientIP(ctx, h.clientIP(r))
	ctx = sessionauth.WithUserAgent(ctx, r.UserAgent())
	return ctx
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

/*
====================================
SESSIONS
====================================
*/

type signupBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var body signupBody
	if !h.decode(w, r, &body) {
		return
	}
	issued, err := h.engine.Signup(r.Context(), sessionauth.SignupRequest{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeIssued(w, issued)
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !h.decode(w, r, &body) {
		return
	}
	issued, err := h.engine.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeIssued(w, issued)
}

func writeIssued(w http.ResponseWriter, issued *sessionauth.IssuedSession) {
	w.Header().Set(middleware.HeaderAccessToken, issued.AccessToken)
	w.Header().Set(middleware.HeaderRefreshToken, issued.RefreshToken)
	writeJSON(w, http.StatusOK, issued.Account)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.RefreshResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	w.Header().Set(middleware.HeaderAccessToken, res.AccessToken)
	if res.Rotated() {
		w.Header().Set(middleware.HeaderRefreshToken, res.RefreshToken)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_id":       res.AccountID,
		"expiresAt": res.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(middleware.HeaderRefreshToken))
	accountID := strings.TrimSpace(r.Header.Get(middleware.HeaderAccountID))
	if err := h.engine.Logout(r.Context(), accountID, token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), accountID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionView struct {
	ID        string `json:"id"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())
	list, err := h.engine.ActiveSessions(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{ID: s.ID, ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, out)
}

/*
====================================
ACCOUNTS
====================================
*/

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())
	view, err := h.engine.Account(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) username(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("field") != "username" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	view, err := h.engine.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": view.Username})
}

func (h *Handler) checkUsername(w http.ResponseWriter, r *http.Request) {
	available, err := h.engine.UsernameAvailable(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *Handler) checkEmail(w http.ResponseWriter, r *http.Request) {
	available, err := h.engine.EmailAvailable(r.Context(), r.PathValue("email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

type changePasswordBody struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordBody
	if !h.decode(w, r, &body) {
		return
	}
	accountID, _ := middleware.AccountIDFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), accountID, body.OldPassword, body.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())
	if err := h.engine.DeleteAccount(r.Context(), accountID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

/*
====================================
PASSWORD RESET
====================================
*/

type resetRequestBody struct {
	Email string `json:"email"`
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address is registered, a reset email has been sent",
	})
}

type resetConfirmBody struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetConfirmBody
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.engine.ConfirmPasswordReset(r.Context(), body.Token, body.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

/*
====================================
HELPERS
====================================
*/

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty request body")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "httpapi: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
