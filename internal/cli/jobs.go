package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/me/clusterq/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and track jobs",
	}
	cmd.AddCommand(
		newJobsSubmitCmd(),
		newJobsStatusCmd(),
		newJobsListCmd(),
		newJobsAbortCmd(),
		newJobsEventsCmd(),
	)
	return cmd
}

// readJobSpec parses a YAML (or JSON) job spec file.
func readJobSpec(path string) (model.JobSpec, error) {
	var spec model.JobSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read job spec: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse job spec %s: %w", path, err)
	}
	return spec, nil
}

func jobPath(id, suffix string) string {
	return "/api/v1/jobs/" + url.PathEscape(id) + suffix
}

func newJobsSubmitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit -f <job.yaml>",
		Short: "Submit a job from a spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := readJobSpec(file)
			if err != nil {
				return err
			}
			logger.Debug("submitting job", "tasks", len(spec.Tasks))

			resp, err := client.Post("/api/v1/jobs/", spec)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					for _, d := range apiErr.Details {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", d.Field, d.Message)
					}
				}
				return fmt.Errorf("submit job: %w", err)
			}
			var job model.Job
			if err := resp.decode(&job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted (%s, %d tasks)\n", job.ID, job.State, len(spec.Tasks))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Job spec file (YAML)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newJobsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job and its commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(jobPath(args[0], ""))
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			var job struct {
				model.Job
				Commands []model.PlannedCommand `json:"commands"`
			}
			if err := resp.decode(&job); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job: %s\n", job.ID)
			fmt.Fprintf(out, "  State:     %s\n", job.State)
			if job.Reason != "" {
				fmt.Fprintf(out, "  Reason:    %s\n", job.Reason)
			}
			fmt.Fprintf(out, "  Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
			if job.CompletionTime != nil {
				fmt.Fprintf(out, "  Completed: %s\n", job.CompletionTime.Format(time.RFC3339))
			}
			if len(job.Commands) > 0 {
				fmt.Fprintln(out, "  Commands:")
				for _, c := range job.Commands {
					fmt.Fprintf(out, "    - %s %s on %s: %s", c.Kind, c.Target, c.Host, c.Status)
					if c.Status == model.CommandFailed {
						fmt.Fprintf(out, " (exit %d)", c.ExitCode)
					}
					fmt.Fprintln(out)
				}
			}
			if job.Report != nil && job.Report.Stdout != "" {
				fmt.Fprintf(out, "  Output:\n%s\n", job.Report.Stdout)
			}
			return nil
		},
	}
}

func newJobsListCmd() *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/jobs/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			var jobs []model.Job
			if err := resp.decode(&jobs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			fmt.Fprintf(out, "%-42s  %-12s  %s\n", "ID", "STATE", "CREATED")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-42s  %-12s  %s\n", j.ID, j.State, j.CreatedAt.Format(time.RFC3339))
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(jobs), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only jobs in this state")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs to show (server default 20)")
	return cmd
}

func newJobsAbortCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abort <job_id>",
		Short: "Abort a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put(jobPath(args[0], "/abort"), map[string]string{"reason": reason})
			if err != nil {
				return fmt.Errorf("abort job: %w", err)
			}
			var job model.Job
			if err := resp.decode(&job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s (%s)\n", job.ID, job.State, job.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the job")
	return cmd
}

func newJobsEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <job_id>",
		Short: "Show a job's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(jobPath(args[0], "/events"))
			if err != nil {
				return fmt.Errorf("job events: %w", err)
			}
			var events []model.EventRecord
			if err := resp.decode(&events); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintf(out, "%4d  %s  %-12s", ev.Seq, ev.RecordedAt.Format(time.RFC3339), ev.Event.Type)
				if ev.Event.Reason != "" {
					fmt.Fprintf(out, "  %s", ev.Event.Reason)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
