package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAPIKey is middleware that requires the shared kiosk key in either
// the X-API-Key header or an Authorization bearer token. An empty configured
// key disables the check entirely (development only).
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				auth := r.Header.Get("Authorization")
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
					presented = after
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
