package standard

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manage application instances",
	}

	cmd.AddCommand(newInstancesListCmd())
	cmd.AddCommand(newInstancesCompleteCmd())
	cmd.AddCommand(newInstancesFailCmd())
	cmd.AddCommand(newInstancesUnloadCmd())
	return cmd
}

func newInstancesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List application instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			instances, err := api.ListInstances(ctx)
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No instances")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-38s %-24s %s\n", "INSTANCE", "APP", "STATUS")
			for _, instance := range instances {
				fmt.Fprintf(cmd.OutOrStdout(), "%-38s %-24s %s\n", instance.InstanceID, instance.AppID, instance.Status)
			}
			return nil
		},
	}
	return cmd
}

func newInstancesCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <instance-id>",
		Short: "Mark a loading instance as loaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			instance, err := api.CompleteInstance(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s of %s is loaded\n", instance.InstanceID, instance.AppID)
			return nil
		},
	}
	return cmd
}

func newInstancesFailCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <instance-id>",
		Short: "Abandon a loading instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := api.FailInstance(ctx, args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s failed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded with the instance")
	return cmd
}

func newInstancesUnloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unload <instance-id>",
		Short: "Unload a loaded instance and drop its subscriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := api.UnloadInstance(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s unloaded\n", args[0])
			return nil
		},
	}
	return cmd
}
