// Package middleware provides request body size limiting for enterprise safety (BE-DATA-001).
package middleware

import (
	"net/http"
	"strings"
)

const (
	// DefaultStandardMaxBodyBytes is the default max request body for most API requests (512KB).
	DefaultStandardMaxBodyBytes = 512 * 1024
	// DefaultInferenceMaxBodyBytes is the default max request body for POST /inference, which
	// carries a batch of feature-vector samples rather than a handful of scalar fields (5MB).
	DefaultInferenceMaxBodyBytes = 5 * 1024 * 1024
)

// MaxBodySize returns middleware that limits request body size: largeMax for POST, PUT or PATCH
// to a path ending in /inference, standardMax for every other request that carries a non-nil
// body, whatever its method.
func MaxBodySize(standardMax, largeMax int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			max := standardMax
			if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) &&
				strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/inference") {
				max = largeMax
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
