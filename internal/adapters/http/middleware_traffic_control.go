package httpadapter

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// unguardedPath reports paths that bypass auth and traffic control so that
// probes and scrapes keep working under load.
func unguardedPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// rateLimitMiddleware applies one token bucket to all API traffic. rps <= 0
// disables it.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unguardedPath(r.URL.Path) || limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", retryAfter)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":      "rate limit exceeded",
			"request_id": requestIDFromContext(r.Context()),
		})
	})
}

// backpressureMiddleware admits at most maxInFlight concurrent requests. A
// request that cannot get a slot within wait is rejected with 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unguardedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		select {
		case slots <- struct{}{}:
		default:
			if !acquireWithin(r, slots, wait) {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error":      "server is overloaded, retry later",
					"request_id": requestIDFromContext(r.Context()),
				})
				return
			}
		}
		defer func() { <-slots }()

		next.ServeHTTP(w, r)
	})
}

func acquireWithin(r *http.Request, slots chan struct{}, wait time.Duration) bool {
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case slots <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-r.Context().Done():
		return false
	}
}

// apiKeyMiddleware requires "Authorization: Bearer <key>" when key is set.
func apiKeyMiddleware(next http.Handler, key string) http.Handler {
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unguardedPath(r.URL.Path) || isAuthorizedBearerHeader(r.Header.Get("Authorization"), key) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="cti-assistant"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":      "unauthorized",
			"request_id": requestIDFromContext(r.Context()),
		})
	})
}

func isAuthorizedBearerHeader(headerValue, expectedToken string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || expectedToken == "" {
		return false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1
}
