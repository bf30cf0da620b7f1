package standard

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atriumhq/atrium/internal/cli/tui"
)

// Execute runs the Cobra-based CLI entry point.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "atrium",
		Short: "Atrium command-line interface",
		Long:  "Atrium CLI manages applications, instances, and the host event bus.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringP("api", "a", envOrDefault("ATRIUM_API_BASE", "http://127.0.0.1:7070"), "atriumd base URL")
	cmd.PersistentFlags().String("api-key", envOrDefault("ATRIUM_API_KEY", ""), "API key sent with every request")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAppsCmd())
	cmd.AddCommand(newInstancesCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newTUICmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the Atrium client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Atrium CLI (prototype)\n")
		},
	}
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run()
		},
	}
}
