package standard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atriumhq/atrium/internal/cli/client"
)

func newAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage registered applications",
	}

	cmd.AddCommand(newAppsListCmd())
	cmd.AddCommand(newAppsRegisterCmd())
	cmd.AddCommand(newAppsRemoveCmd())
	cmd.AddCommand(newAppsLaunchCmd())
	return cmd
}

func newAppsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			apps, err := api.ListApps(ctx)
			if err != nil {
				return err
			}
			if len(apps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No applications registered")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %-8s %s\n", "NAME", "VERSION", "ENABLED", "TITLE")
			for _, app := range apps {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %-8t %s\n", app.Name, app.Version, app.Enabled, app.Title)
			}
			return nil
		},
	}
	return cmd
}

func newAppsRegisterCmd() *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "register [name]",
		Short: "Register an application manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var manifest client.Manifest
			switch {
			case fromFile != "":
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &manifest); err != nil {
					return fmt.Errorf("invalid manifest JSON: %w", err)
				}
			case len(args) == 1:
				version, err := cmd.Flags().GetString("version")
				if err != nil {
					return err
				}
				manifest = client.Manifest{Name: args[0], Version: version, Enabled: true}
			default:
				return fmt.Errorf("provide a name or --file")
			}

			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			created, err := api.RegisterApp(ctx, manifest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Application %s %s registered\n", created.Name, created.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Manifest JSON file")
	cmd.Flags().String("version", "0.1.0", "Application version when registering by name")
	return cmd
}

func newAppsRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Deregister an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := api.RemoveApp(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Application %s removed\n", args[0])
			return nil
		},
	}
	return cmd
}

func newAppsLaunchCmd() *cobra.Command {
	var deferred bool

	cmd := &cobra.Command{
		Use:   "launch <name>",
		Short: "Launch an instance of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			instance, err := api.LaunchApp(ctx, args[0], deferred)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s of %s is %s\n", instance.InstanceID, args[0], instance.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deferred, "deferred", false, "Leave the instance in the loading state until an explicit complete")
	return cmd
}
