// Package shield provides the HTTP middleware in front of the acquisition
// API: security headers, body limits, request tracing and per-client rate
// limiting.
//
// Usage:
//
//	rl := shield.NewRateLimiter(shield.RateConfig{PerMinute: 30, Burst: 10})
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(rl) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey contextKey = "shield_trace_id"
)

// DefaultBodyLimit bounds JSON request bodies.
const DefaultBodyLimit = 64 * 1024

// Stack returns the standard middleware stack, outermost first:
// SecurityHeaders → MaxBody → TraceID → RateLimiter. A nil limiter is
// skipped.
func Stack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultBodyLimit),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
