// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that accepts a request when its Authorization
// header carries any of the given tokens. Several tokens may be active at once
// so a new token can be rolled out before the old one is retired. Empty tokens
// are ignored; with no usable token every request is rejected.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			if !matchAny([]byte(auth[len(bearerPrefix):]), accepted) {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchAny compares got against every accepted token in constant time per
// token, without stopping at the first match.
func matchAny(got []byte, accepted [][]byte) bool {
	match := 0
	for _, want := range accepted {
		match |= subtle.ConstantTimeCompare(got, want)
	}
	return match == 1
}
