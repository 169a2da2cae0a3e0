package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/me/clusterq/pkg/model"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manipulate per-host command queues",
	}
	cmd.AddCommand(newQueueSizeCmd(), newQueueEnqueueCmd(), newQueueNextCmd())
	return cmd
}

func queuePath(host, suffix string) string {
	return "/api/v1/hosts/" + url.PathEscape(host) + "/commands" + suffix
}

func newQueueSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <host>",
		Short: "Show the number of pending commands for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(queuePath(args[0], "/size"))
			if err != nil {
				return fmt.Errorf("queue size: %w", err)
			}
			var data struct {
				Size int `json:"size"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pending\n", args[0], data.Size)
			return nil
		},
	}
}

func newQueueEnqueueCmd() *cobra.Command {
	var (
		kind   string
		target string
		jobID  string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <host>",
		Short: "Add a command to a host's queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := model.Command{
				JobID:  model.JobID(jobID),
				Kind:   model.CommandKind(strings.ToUpper(kind)),
				Target: target,
			}
			if len(params) > 0 {
				c.Params = make(map[string]string, len(params))
				for _, p := range params {
					k, v, ok := strings.Cut(p, "=")
					if !ok {
						return fmt.Errorf("invalid --param %q, want key=value", p)
					}
					c.Params[k] = v
				}
			}

			resp, err := client.Post(queuePath(args[0], ""), c)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			var data struct {
				Queued  bool          `json:"queued"`
				Command model.Command `json:"command"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if data.Queued {
				fmt.Fprintf(out, "Queued %s for %s\n", data.Command.ID, args[0])
			} else {
				fmt.Fprintf(out, "Duplicate of a pending command for %s, not queued\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Command kind (EXECUTE, STATUS, START, STOP, INSTALL)")
	cmd.Flags().StringVar(&target, "target", "", "Command target (component or service)")
	cmd.Flags().StringVar(&jobID, "job", "", "Owning job ID")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Command parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func newQueueNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <host>",
		Short: "Remove and print the oldest pending command for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post(queuePath(args[0], "/next"), nil)
			if err != nil {
				return fmt.Errorf("dequeue: %w", err)
			}

			out := cmd.OutOrStdout()
			if resp.StatusCode == http.StatusNoContent {
				fmt.Fprintf(out, "No pending commands for %s.\n", args[0])
				return nil
			}
			var c model.Command
			if err := resp.decode(&c); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %s %s", c.ID, c.Kind, c.Target)
			if c.JobID != "" {
				fmt.Fprintf(out, "  (job %s)", c.JobID)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
