package httpapi

import (
	"net/http"
	"strings"

	"github.com/taskboard/sessionauth/middleware"
)

// CORSConfig lists the origins allowed to call the API from a browser. A
// single "*" allows any origin. The token headers are always exposed so that
// browser clients can read them.
type CORSConfig struct {
	AllowedOrigins []string
}

var (
	corsAllowHeaders = strings.Join([]string{
		"Content-Type",
		"Authorization",
		middleware.HeaderAccessToken,
		middleware.HeaderRefreshToken,
		middleware.HeaderAccountID,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		middleware.HeaderAccessToken,
		middleware.HeaderRefreshToken,
	}, ", ")
)

func (c CORSConfig) enabled() bool {
	return len(c.AllowedOrigins) > 0
}

func (c CORSConfig) allows(origin string) (string, bool) {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (c CORSConfig) apply(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed, ok := c.allows(origin)
	if !ok {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
}
