package cli

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/me/clusterq/pkg/model"
	"github.com/spf13/cobra"
)

func newHostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Inspect and retire managed hosts",
	}
	cmd.AddCommand(newHostsListCmd(), newHostsShowCmd(), newHostsDecommissionCmd())
	return cmd
}

func newHostsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/hosts/")
			if err != nil {
				return fmt.Errorf("list hosts: %w", err)
			}
			var hosts []model.Host
			if err := resp.decode(&hosts); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "No hosts registered.")
				return nil
			}
			fmt.Fprintf(out, "%-24s  %-15s  %-8s  %s\n", "NAME", "STATE", "PENDING", "LAST SEEN")
			for _, h := range hosts {
				fmt.Fprintf(out, "%-24s  %-15s  %-8d  %s\n", h.Name, h.State, h.Pending, h.LastSeen.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newHostsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <host>",
		Short: "Show a single host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/hosts/" + url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("get host: %w", err)
			}
			var h model.Host
			if err := resp.decode(&h); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Host: %s\n", h.Name)
			fmt.Fprintf(out, "  State:      %s\n", h.State)
			if h.Address != "" {
				fmt.Fprintf(out, "  Address:    %s\n", h.Address)
			}
			if h.OS != "" {
				fmt.Fprintf(out, "  OS:         %s\n", h.OS)
			}
			fmt.Fprintf(out, "  Pending:    %d\n", h.Pending)
			fmt.Fprintf(out, "  Registered: %s\n", h.RegisteredAt.Format(time.RFC3339))
			fmt.Fprintf(out, "  Last seen:  %s\n", h.LastSeen.Format(time.RFC3339))
			if len(h.Labels) > 0 {
				keys := make([]string, 0, len(h.Labels))
				for k := range h.Labels {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintln(out, "  Labels:")
				for _, k := range keys {
					fmt.Fprintf(out, "    %s=%s\n", k, h.Labels[k])
				}
			}
			return nil
		},
	}
}

func newHostsDecommissionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decommission <host>",
		Short: "Retire a host and drop its pending commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Delete("/api/v1/hosts/" + url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("decommission host: %w", err)
			}
			var data struct {
				Orphaned []model.Command `json:"orphaned"`
				Aborted  []model.JobID   `json:"aborted_jobs"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Host %s decommissioned\n", args[0])
			fmt.Fprintf(out, "  Dropped commands: %d\n", len(data.Orphaned))
			for _, id := range data.Aborted {
				fmt.Fprintf(out, "  Aborted job:      %s\n", id)
			}
			return nil
		},
	}
}
