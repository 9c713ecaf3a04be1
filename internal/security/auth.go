// Package security guards the local API surface. The token check is
// constant-time so a misconfigured reverse proxy does not turn the token
// into a timing oracle.
package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenGuard enforces a static bearer token on HTTP requests. When disabled
// every request passes, which is the default for loopback-only deployments.
type TokenGuard struct {
	Enabled bool
	Token   string
}

func (g TokenGuard) Authorize(r *http.Request) bool {
	if !g.Enabled {
		return true
	}
	head := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(head, prefix) {
		return false
	}
	candidate := strings.TrimSpace(strings.TrimPrefix(head, prefix))
	if len(candidate) != len(g.Token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.Token)) == 1
}

// Middleware rejects unauthorized requests before they reach a handler.
// Health probes stay open so a supervisor can watch an authenticated daemon.
func (g TokenGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || g.Authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
}
