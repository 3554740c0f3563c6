package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maxpert/redisfeed/cfg"
)

// SecretHeader carries the admin pre-shared key
const SecretHeader = "X-Feed-Secret"

// AuthMiddleware checks the admin secret when one is configured. The secret
// may come from SecretHeader or an "Authorization: Bearer" header.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.IsAdminAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(SecretHeader)
		if provided == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			provided = parts[1]
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.GetAdminSecret())) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
