package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kobeee/ai-postcard-admission/internal/ratelimit"
)

// RateLimit enforces the multi-dimension sliding-window limiter for every
// request, keyed by the forwarded user id, client IP and route. The limiter
// itself fails open on Redis errors, so this middleware only ever blocks on
// a definite denial.
func RateLimit(limiter *ratelimit.Limiter, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), ratelimit.Request{
				UserID:   r.Header.Get("X-User-ID"),
				IP:       clientIP(r),
				Endpoint: r.URL.Path,
				Action:   action,
			})
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				w.Header().Set("X-RateLimit-Blocked", blockedDimensions(res))
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func blockedDimensions(res ratelimit.Result) string {
	dims := make([]string, len(res.BlockedBy))
	for i, v := range res.BlockedBy {
		dims[i] = string(v.Dimension)
	}
	return strings.Join(dims, ",")
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For first (trusted reverse proxy), first hop is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
