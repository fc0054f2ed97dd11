package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/carebridge/dispatch/internal/metrics"
)

// Identity headers set by the authenticating gateway in front of this
// service. Absent headers mean unauthenticated traffic.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// IdentityFromRequest derives the admission-control identity from gateway
// headers, falling back to the network origin.
func IdentityFromRequest(r *http.Request) Identity {
	id := Identity{
		Role:      r.Header.Get(HeaderUserRole),
		Principal: r.Header.Get(HeaderUserID),
	}
	if id.Role == "" {
		id.Role = RoleAnonymous
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	id.RemoteIP = host
	return id
}

// Middleware runs the token-bucket check before any handler executes. A
// denial is a first-class outcome: 429 with an empty JSON object and a
// Retry-After hint, never an auth or validation error, and no handler side
// effects have happened yet.
func Middleware(limiter *Limiter, policies Policies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromRequest(r)
			policy := policies.For(id.Role)

			allowed, err := limiter.TryConsume(r.Context(), id.Key(), 1, policy)
			if err != nil || !allowed {
				metrics.RateLimitDecisions.WithLabelValues(id.Role, "denied").Inc()

				retryAfter := 1
				if policy.RefillRate > 0 {
					retryAfter = int(1.0/policy.RefillRate) + 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("{}"))
				return
			}

			metrics.RateLimitDecisions.WithLabelValues(id.Role, "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}
