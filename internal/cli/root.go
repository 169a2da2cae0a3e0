package cli

import (
	"log/slog"
	"os"

	"github.com/me/clusterq/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagAgentKey  string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking CLUSTERQ_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("CLUSTERQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the clusterq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clusterq",
		Short: "clusterq: host command queues and job tracking",
		Long:  "clusterq inspects managed hosts, their pending commands and the jobs that produce them.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			client.AgentKey = flagAgentKey
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "clusterq server URL (or CLUSTERQ_SERVER env)")
	root.PersistentFlags().StringVar(&flagAgentKey, "agent-key", os.Getenv("CLUSTERQ_AGENT_KEY"), "Agent key for agent-only endpoints (or CLUSTERQ_AGENT_KEY env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newHostsCmd(),
		newQueueCmd(),
		newJobsCmd(),
	)

	return root
}
