package auth

import (
	"net/http"
	"strings"

	"github.com/nadmax/taskboard/internal/httputil"
)

const CookieName = "taskboard_session"

// Middleware rejects requests that carry no valid session token, taken from
// the session cookie or a Bearer Authorization header.
func Middleware(m *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := tokenFromRequest(r)
			if !ok {
				httputil.WriteJSONError(w, "authentication required", http.StatusUnauthorized)
				return
			}

			if _, err := m.ValidateToken(token); err != nil {
				httputil.WriteJSONError(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}
