package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type Keys struct {
	Public []string
	Admin  []string
}

type role int

const (
	roleNone role = iota
	rolePublic
	roleAdmin
)

// roleOf resolves the caller's key. Admin keys also satisfy public routes.
func (k Keys) roleOf(r *http.Request) role {
	key := presentedKey(r)
	switch {
	case key == "":
		return roleNone
	case matchAny(key, k.Admin):
		return roleAdmin
	case matchAny(key, k.Public):
		return rolePublic
	}
	return roleNone
}

// presentedKey reads "Authorization: Bearer <key>" or "X-API-Key".
func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func matchAny(key string, set []string) bool {
	for _, k := range set {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func require(keys Keys, enabled bool, min role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := keys.roleOf(r)
			switch {
			case got >= min:
				next.ServeHTTP(w, r)
			case got != roleNone:
				writeErr(w, http.StatusForbidden, "forbidden")
			default:
				writeErr(w, http.StatusUnauthorized, "unauthorized")
			}
		})
	}
}

// RequireAny accepts a public or admin key. With no keys configured at all
// every request passes (local dev).
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	return require(keys, len(keys.Public)+len(keys.Admin) > 0, rolePublic)
}

// RequireAdmin accepts only admin keys: 401 for a missing or unknown key,
// 403 for a public one. Open when no admin keys are configured.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return require(keys, len(keys.Admin) > 0, roleAdmin)
}
