// Package middleware provides the HTTP middleware chain of the operator API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// wsPath is the only route that accepts the key as a query parameter;
// browsers cannot set headers on a websocket upgrade.
const wsPath = "/ws"

// Auth returns middleware that requires apiKey as a Bearer token or in the
// X-API-Key header. An empty apiKey disables the check. Paths listed in
// public are always let through.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			switch {
			case token == "":
				writeUnauthorized(w, "missing API key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeUnauthorized(w, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if r.URL.Path == wsPath {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="densitybot"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
