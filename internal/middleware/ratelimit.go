package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/metrics"
	"github.com/xelth-com/trainingcms/internal/utils"
)

// Limiter is the admission check consulted before a handler runs
type Limiter interface {
	IsAllowed(identifier string, maxRequests int, window time.Duration) bool
	Remaining(identifier string, maxRequests int, window time.Duration) int
}

// RateLimit admits at most policy.MaxRequests requests per client IP within the
// sliding window. Each call site counts separately. Admitted responses carry the
// number of requests left in X-RateLimit-Remaining.
func RateLimit(l Limiter, site string, policy config.RatePolicy, trustProxy bool) func(http.Handler) http.Handler {
	window := policy.WindowDuration()
	retryAfter := strconv.Itoa(int(window / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			id := site + ":" + ip
			if !l.IsAllowed(id, policy.MaxRequests, window) {
				metrics.RateLimitRejections.WithLabelValues(site).Inc()
				logger.Debugf("rate limit %s: rejected %s", site, ip)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, try again later"}`))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(id, policy.MaxRequests, window)))
			next.ServeHTTP(w, r)
		})
	}
}
