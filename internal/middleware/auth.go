package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/sharepool/internal/auth"
)

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// RequireAuth validates the bearer token and populates the request Identity.
// Browsers cannot set headers on websocket upgrades, so the token is also
// accepted from the access_token query parameter.
func RequireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := tokens.Validate(bearerToken(r))
			if err != nil {
				msg := "invalid or expired token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "authorization required"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="sharepool"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated account has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
