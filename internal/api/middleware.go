package api

import (
	"context"
	"mime"
	"net/http"

	"github.com/tinywall/procman/internal/auth"
)

type ctxKey int

const roleKey ctxKey = iota

// localOriginOnly refuses browser requests made from pages not served by
// this machine.
func localOriginOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsLocalOrigin(r.Header.Get("Origin")) {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Get().AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		if a.keys == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "api key auth not initialized"})
			return
		}
		role := a.keys.RoleForKey(r.Header.Get(a.keys.HeaderName()))
		if role == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, role)))
	})
}

// requireRole admits requests authenticated with role. Requests that passed
// without a key (auth.type none) are admitted as well.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, ok := r.Context().Value(roleKey).(string); ok && got != role {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireJSONBody rejects POST requests not declared as application/json.
func requireJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "content type must be application/json"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
