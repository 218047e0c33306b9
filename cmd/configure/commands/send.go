package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paranoiabot/reminderd/internal/gateway"
)

// NewSendCmd creates the send command
func NewSendCmd() *cobra.Command {
	var (
		chatID     int64
		text       string
		requireAck bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test message through the Telegram gateway",
		Long:  "Send a message to a chat to verify the bot token and delivery path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == 0 {
				return fmt.Errorf("--chat-id is required")
			}

			client, _, err := telegramFromConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			opts := gateway.SendOptions{
				ChatID:     chatID,
				Text:       text,
				RequireAck: requireAck,
				Tag:        fmt.Sprintf("test-%d", time.Now().Unix()),
			}
			if err := client.Send(ctx, opts); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}

			fmt.Printf("Message delivered to chat %d\n", chatID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "Target chat id")
	cmd.Flags().StringVar(&text, "text", "reminderd test message", "Message text")
	cmd.Flags().BoolVar(&requireAck, "require-ack", false, "Attach Done/Snooze buttons")
	return cmd
}
