// Package auth guards the artcurate HTTP API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/healthz":      true,
	"/metrics":      true,
	"/docs":         true,
	"/docs/":        true,
	"/openapi":      true,
	"/openapi.json": true,
	"/openapi.yaml": true,
}

// Middleware returns HTTP middleware that requires "Authorization: Bearer
// <token>" on every request except those to excluded paths (/healthz,
// /metrics, /docs, /openapi.json). An empty token disables the check.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if skipPaths[path] || strings.HasPrefix(path, "/docs") {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := bearerToken(r)
			switch {
			case !ok:
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			case subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1:
				writeAuthError(w, http.StatusForbidden, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeAuthError writes an RFC 9457 problem body, matching the error shape
// of the API's own handlers.
func writeAuthError(w http.ResponseWriter, status int, detail string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="artcurate"`)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
