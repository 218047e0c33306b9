package middleware

import (
	"net/http"

	logpkg "github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/request"
	"go.uber.org/zap"
)

// Audit logs auth failures and rate-limit violations. The webhook endpoint
// is reachable from the open internet, so rejected requests are worth a
// dedicated event stream.
func Audit(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			var event string
			switch wrapped.statusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				event = "auth_rejected"
			case http.StatusTooManyRequests:
				event = "rate_limit_violation"
			default:
				return
			}

			logger.Warn(event,
				zap.Int("status_code", wrapped.statusCode),
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("ip", logpkg.SanitizeString(request.ClientIP(r), logpkg.MaxGeneralStringLength)),
				zap.String("user_agent", logpkg.SanitizeString(r.UserAgent(), logpkg.MaxGeneralStringLength)),
			)
		})
	}
}
