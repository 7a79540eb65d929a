// Package middleware holds the HTTP wrappers applied around every API route.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// reject writes a JSON error body with the given status.
func reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Auth requires apiKey on every request except preflights and the paths in
// open. Clients send it as "Authorization: Bearer <key>" or X-API-Key. An
// empty apiKey turns the check off.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isOpen(r.URL.Path, open) {
				next.ServeHTTP(w, r)
				return
			}
			got := presentedKey(r)
			if got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="depthwatch"`)
			if got == "" {
				reject(w, http.StatusUnauthorized, "missing api key")
			} else {
				reject(w, http.StatusUnauthorized, "invalid api key")
			}
		})
	}
}

func isOpen(path string, open []string) bool {
	for _, p := range open {
		if p == path {
			return true
		}
	}
	return false
}

func presentedKey(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
