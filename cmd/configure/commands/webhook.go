package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paranoiabot/reminderd/internal/config"
	"github.com/paranoiabot/reminderd/internal/gateway"
)

// NewWebhookCmd creates the webhook command group
func NewWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
		Long:  "Register, inspect, or remove the bot's webhook with the Telegram API",
	}

	cmd.AddCommand(newWebhookSetCmd())
	cmd.AddCommand(newWebhookInfoCmd())
	cmd.AddCommand(newWebhookDeleteCmd())
	return cmd
}

func telegramFromConfig() (*gateway.TelegramClient, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.TelegramBotToken == "" {
		return nil, nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not configured")
	}
	return gateway.NewTelegramClient(cfg.TelegramBotToken), cfg, nil
}

func newWebhookSetCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := telegramFromConfig()
			if err != nil {
				return err
			}

			if url == "" {
				url = cfg.BaseURL + "/webhook/telegram"
			}
			if err := client.SetWebhook(context.Background(), url, cfg.TelegramSecret); err != nil {
				return fmt.Errorf("failed to set webhook: %w", err)
			}

			fmt.Printf("Webhook registered: %s\n", url)
			if cfg.TelegramSecret == "" {
				fmt.Println("Warning: TELEGRAM_WEBHOOK_SECRET is empty; the webhook is unauthenticated")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Webhook URL (defaults to BASE_URL + /webhook/telegram)")
	return cmd
}

func newWebhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := telegramFromConfig()
			if err != nil {
				return err
			}

			info, err := client.GetWebhookInfo(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get webhook info: %w", err)
			}

			if info.URL == "" {
				fmt.Println("No webhook registered")
				return nil
			}
			fmt.Printf("URL: %s\n", info.URL)
			fmt.Printf("Pending updates: %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Printf("Last error: %s\n", info.LastErrorMessage)
			}
			return nil
		},
	}
}

func newWebhookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := telegramFromConfig()
			if err != nil {
				return err
			}

			if err := client.DeleteWebhook(context.Background()); err != nil {
				return fmt.Errorf("failed to delete webhook: %w", err)
			}
			fmt.Println("Webhook removed")
			return nil
		},
	}
}
