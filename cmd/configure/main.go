package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paranoiabot/reminderd/cmd/configure/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "reminderd-configure",
		Short: "Configuration tool for reminderd",
		Long:  "CLI tool for managing the Telegram webhook, escalation plans, and API tokens",
	}

	rootCmd.AddCommand(commands.NewWebhookCmd())
	rootCmd.AddCommand(commands.NewPlanCmd())
	rootCmd.AddCommand(commands.NewSendCmd())
	rootCmd.AddCommand(commands.NewTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
