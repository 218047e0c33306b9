package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout is the default request timeout (30 seconds)
	DefaultRequestTimeout = 30 * time.Second
)

// Timeout enforces a deadline on request handlers. The deadline also flows
// through the request context, so database and queue calls give up with it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	timeoutBody := fmt.Sprintf(`{"success":false,"error":"Request Timeout","message":"Request exceeded %s"}`, timeout)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)

			handler := http.TimeoutHandler(next, timeout, timeoutBody)
			handler.ServeHTTP(w, r)
		})
	}
}
