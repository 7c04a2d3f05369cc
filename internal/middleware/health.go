package middleware

import (
	"net/http"

	"github.com/kobeee/ai-postcard-admission/internal/ratelimit"
)

// HealthCounters feeds the emergency brake: it counts the request in-flight
// for its duration and records the outcome, where any 5xx is an error.
func HealthCounters(brake *ratelimit.Brake) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			brake.RequestStarted(r.Context())
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				brake.RequestFinished(r.Context(), ww.status < http.StatusInternalServerError)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
