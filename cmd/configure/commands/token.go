package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/spf13/cobra"

	"github.com/paranoiabot/reminderd/internal/config"
	"github.com/paranoiabot/reminderd/internal/database"
)

// NewTokenCmd creates the token command
func NewTokenCmd() *cobra.Command {
	var (
		chatID int64
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a user",
		Long:  "Look up the user account bound to a Telegram chat and print a signed bearer token for the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == 0 {
				return fmt.Errorf("--chat-id is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.AuthSecret == "" {
				return fmt.Errorf("AUTH_SECRET is not configured")
			}

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()

			userRepo := database.NewUserRepository(db)
			user, err := userRepo.GetByChatID(context.Background(), chatID)
			if err != nil {
				return fmt.Errorf("failed to find user for chat %d: %w", chatID, err)
			}

			now := time.Now().UTC()
			tok, err := jwt.NewBuilder().
				Subject(user.ID.String()).
				IssuedAt(now).
				Expiration(now.Add(ttl)).
				Build()
			if err != nil {
				return fmt.Errorf("failed to build token: %w", err)
			}
			signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(cfg.AuthSecret)))
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			fmt.Printf("User: %s (chat %d)\n", user.ID, chatID)
			fmt.Printf("Expires: %s\n", now.Add(ttl).Format(time.RFC3339))
			fmt.Println(string(signed))
			return nil
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "Telegram chat id of the user")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
