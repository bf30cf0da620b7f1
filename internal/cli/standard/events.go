package standard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atriumhq/atrium/internal/cli/client"
	hostevents "github.com/atriumhq/atrium/internal/host/events"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Emit and observe bus events",
	}

	cmd.AddCommand(newEventsEmitCmd())
	cmd.AddCommand(newEventsWatchCmd())
	return cmd
}

func newEventsEmitCmd() *cobra.Command {
	var filters []string
	var argsJSON string
	var broadcast bool

	cmd := &cobra.Command{
		Use:   "emit <name>",
		Short: "Publish an event through the host bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var eventArgs []any
			if strings.TrimSpace(argsJSON) != "" {
				if err := json.Unmarshal([]byte(argsJSON), &eventArgs); err != nil {
					return fmt.Errorf("invalid args JSON: %w", err)
				}
			}

			payload := client.EmitRequest{Name: args[0], Args: eventArgs}
			if !broadcast {
				if len(filters) == 0 {
					return fmt.Errorf("provide --filter or --broadcast")
				}
				payload.Filters = filters
			}

			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := api.Emit(ctx, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event %s emitted\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Target filter: instance id, app id, or pattern (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Event arguments as a JSON array")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "Deliver to every subscriber regardless of binding")
	return cmd
}

func newEventsWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [name]",
		Short: "Stream emissions of an event",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := hostevents.NameAppLifecycle
			if len(args) == 1 {
				name = args[0]
			}

			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			return api.WatchEvents(ctx, name, func(frame client.EventFrame) {
				target := cmd.OutOrStdout()
				if name == hostevents.NameAppLifecycle && len(frame.Args) > 0 {
					var event client.AppEvent
					if err := json.Unmarshal(frame.Args[0], &event); err == nil {
						fmt.Fprintf(target, "%s\t%s\t%s\t%s\t%s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.AppID, event.InstanceID, event.Message)
						return
					}
				}
				raw, _ := json.Marshal(frame.Args)
				fmt.Fprintf(target, "%s\t%s\n", frame.Name, raw)
			})
		},
	}
	return cmd
}
