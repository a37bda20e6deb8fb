package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/facegate/facegate/internal/ratelimit"
)

// RateLimit returns middleware that throttles one named operation per client
// IP. Denied requests get a 429 with a Retry-After hint.
func RateLimit(limiter *ratelimit.Limiter, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.TryConsume(operation, clientIP(r))
			if !res.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", res.RetryAfterSeconds))
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error": "rate limit exceeded", "retry_after_seconds": %d}`, res.RetryAfterSeconds)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys buckets by the request's remote address. The chi RealIP
// middleware has already rewritten RemoteAddr from X-Forwarded-For when the
// server sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
