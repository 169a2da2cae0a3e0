package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/clusterq/internal/agent"
	"github.com/me/clusterq/internal/config"
	"github.com/me/clusterq/internal/logging"
)

func main() {
	var (
		flagCfg    config.AgentConfig
		configFile string
		debug      bool
	)

	flag.StringVar(&configFile, "config", "", "Path to YAML agent config file")

	// Server connection flags.
	flag.StringVar(&flagCfg.ServerURL, "server", "", "clusterq server URL (default http://localhost:8080)")
	flag.StringVar(&flagCfg.Name, "name", "", "Host name (default: hostname)")
	flag.StringVar(&flagCfg.Address, "address", "", "Address advertised at registration")
	flag.DurationVar(&flagCfg.HeartbeatInterval, "heartbeat", 0, "Heartbeat interval (default 10s)")
	flag.StringVar(&flagCfg.AgentKey, "agent-key", os.Getenv("CLUSTERQ_AGENT_KEY"), "Agent key sent as X-Agent-Key")

	// Execution flags.
	flag.StringVar(&flagCfg.Shell, "shell", "", "Interpreter for EXECUTE scripts (default sh)")
	flag.StringVar(&flagCfg.WorkDir, "workdir", "", "Working directory for scripts (default: $TMPDIR)")

	// TLS flags.
	var tlsOpts agent.TLSOptions
	flag.StringVar(&tlsOpts.CACertPath, "ca-cert", "", "Path to CA certificate PEM file for internal PKI")
	flag.BoolVar(&tlsOpts.InsecureSkipVerify, "insecure", false, "Skip TLS verification (testing only)")

	// Logging flags.
	flag.StringVar(&flagCfg.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&flagCfg.Log.Format, "log-format", "", "Log format (text, json)")
	flag.BoolVar(&debug, "debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	overrideAgentConfig(&cfg, flagCfg)
	if debug {
		cfg.Log.Level = "debug"
	}

	// Default host name to hostname.
	if cfg.Name == "" {
		h, err := os.Hostname()
		if err != nil {
			cfg.Name = "agent"
		} else {
			cfg.Name = h
		}
	}

	logger := logging.FromConfig(cfg.Log)

	tlsCfg, err := agent.BuildTLSConfig(tlsOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tls: %v\n", err)
		os.Exit(1)
	}

	a, err := agent.New(cfg, logger, agent.WithTLSConfig(tlsCfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init agent: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting agent",
		"server", cfg.ServerURL,
		"name", cfg.Name,
		"heartbeat", cfg.HeartbeatInterval,
		"shell", cfg.Shell,
	)

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, agent.ErrDecommissioned) {
			logger.Warn("host decommissioned, exiting", "name", cfg.Name)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "agent error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("agent stopped")
}

// overrideAgentConfig applies the flags that were set on the command line.
func overrideAgentConfig(cfg *config.AgentConfig, f config.AgentConfig) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "server":
			cfg.ServerURL = f.ServerURL
		case "name":
			cfg.Name = f.Name
		case "address":
			cfg.Address = f.Address
		case "heartbeat":
			cfg.HeartbeatInterval = f.HeartbeatInterval
		case "shell":
			cfg.Shell = f.Shell
		case "workdir":
			cfg.WorkDir = f.WorkDir
		case "log-level":
			cfg.Log.Level = f.Log.Level
		case "log-format":
			cfg.Log.Format = f.Log.Format
		}
	})
	// The env default counts even when the flag is not given.
	if f.AgentKey != "" {
		cfg.AgentKey = f.AgentKey
	}
}
