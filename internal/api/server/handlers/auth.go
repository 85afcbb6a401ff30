package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenMatches compares in constant time. An empty candidate never matches.
func tokenMatches(candidate, token string) bool {
	if candidate == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// RequireProxyAuth accepts a request whose bearer token or x-api-key header
// equals the configured proxy token.
func (h *Handler) RequireProxyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.cfg.ProxyToken
		if token == "" {
			writeError(w, http.StatusInternalServerError, "PROXY_TOKEN not configured on server")
			return
		}
		if tokenMatches(bearerToken(r), token) || tokenMatches(r.Header.Get("x-api-key"), token) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

// CORS adds permissive cross-origin headers and answers preflight requests.
func (h *Handler) CORS(next http.Handler) http.Handler {
	origin := h.cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
