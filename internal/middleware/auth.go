package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nwbull/heritage/internal/auth"
	"github.com/nwbull/heritage/internal/token"
)

// SessionCookieName is the cookie carrying the session token. The value
// keeps the "Bearer " scheme prefix so the same string works as an
// Authorization header.
const SessionCookieName = "authorization"

// RequireAuth verifies the session cookie and populates the request
// context with the decoded identity. API consumers get a JSON 401, not a
// redirect.
func RequireAuth(issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			raw := strings.TrimPrefix(cookie.Value, "Bearer ")
			claims, err := issuer.VerifySession(raw)
			if err != nil {
				unauthorized(w)
				return
			}

			ac := auth.Context{
				UserID:   claims.UserID,
				Email:    claims.Email,
				Families: claims.Families,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
}
