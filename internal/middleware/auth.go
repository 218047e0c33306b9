package middleware

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/request"
)

// Auth creates authentication middleware that validates bearer tokens signed
// with the shared secret. The token subject is the user id; the user must
// already exist (accounts are created through the Telegram webhook).
func Auth(users database.UserRepositoryInterface, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse([]byte(parts[1]),
				jwt.WithKey(jwa.HS256, secret),
				jwt.WithValidate(true),
			)
			if err != nil {
				log.Printf("Token verification failed: %v", err)
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			userID, err := uuid.Parse(token.Subject())
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid token subject")
				return
			}

			ctx := r.Context()
			user, err := users.GetByID(ctx, userID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					respondError(w, http.StatusUnauthorized, "Unknown user")
					return
				}
				log.Printf("Database error while fetching user: %v", err)
				respondError(w, http.StatusInternalServerError, "Database error")
				return
			}

			next.ServeHTTP(w, r.WithContext(request.WithUser(ctx, user)))
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
