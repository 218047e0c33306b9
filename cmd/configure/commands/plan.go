package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/paranoiabot/reminderd/internal/escalation"
)

// NewPlanCmd creates the plan command
func NewPlanCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the effective escalation plan",
		Long:  "Print the escalation plan as YAML, either the built-in default or a plan file after validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := escalation.NewPolicy()
			if file != "" {
				loaded, err := escalation.LoadPolicy(file)
				if err != nil {
					return fmt.Errorf("failed to load escalation plan: %w", err)
				}
				policy = loaded
				fmt.Printf("# plan loaded from %s\n", file)
			} else {
				fmt.Println("# built-in default plan")
			}

			out, err := yaml.Marshal(policy)
			if err != nil {
				return fmt.Errorf("failed to render plan: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Escalation plan file to validate and print")
	return cmd
}
