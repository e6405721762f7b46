// Package ratemw provides token-bucket rate limiting middleware.
package ratemw

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// Limit returns middleware that admits at most rps requests per second with
// bursts up to burst. Requests over the limit get 429 with a Retry-After
// header. rps <= 0 disables limiting.
func Limit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	return LimitWith(rate.NewLimiter(rate.Limit(rps), burst))
}

// LimitWith returns middleware backed by an existing limiter, which may be
// shared between routes.
func LimitWith(l *rate.Limiter) func(http.Handler) http.Handler {
	retryAfter := "1"
	if lim := float64(l.Limit()); lim > 0 && lim < 1 {
		retryAfter = strconv.Itoa(int(1/lim + 0.5))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
