package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/clusterq/internal/actionqueue"
	"github.com/me/clusterq/internal/config"
	"github.com/me/clusterq/internal/hosts"
	"github.com/me/clusterq/internal/lifecycle"
	"github.com/me/clusterq/internal/logging"
	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/internal/scheduler"
	"github.com/me/clusterq/internal/server"
	"github.com/me/clusterq/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		flagCfg    config.ServerConfig
		configFile string
		debug      bool
	)
	flag.StringVar(&configFile, "config", "", "Path to YAML server config file")
	flag.StringVar(&flagCfg.Addr, "addr", "", "Listen address")
	flag.StringVar(&flagCfg.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&flagCfg.Log.Format, "log-format", "", "Log format (text, json)")
	flag.StringVar(&flagCfg.DBPath, "db", "", "Database path (default ~/.clusterq/clusterq.db)")
	flag.StringVar(&flagCfg.MetricsPath, "metrics-path", "", "Prometheus exposition path")
	flag.StringVar(&flagCfg.UIPath, "ui-path", "", "Dashboard mount point")
	flag.DurationVar(&flagCfg.PollInterval, "poll", 0, "Scheduler tick interval")
	flag.DurationVar(&flagCfg.JobTimeout, "job-timeout", 0, "Abort scheduled or running jobs silent this long")
	flag.DurationVar(&flagCfg.HostTimeout, "host-timeout", 0, "Mark hosts lost after this long without a heartbeat")
	flag.StringVar(&flagCfg.AgentKeysFile, "agent-keys", "", "Path to agent keys YAML file")
	flag.BoolVar(&debug, "debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	overrideServerConfig(&cfg, flagCfg)
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.FromConfig(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// overrideServerConfig applies the flags that were set on the command line.
func overrideServerConfig(cfg *config.ServerConfig, f config.ServerConfig) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Addr = f.Addr
		case "log-level":
			cfg.Log.Level = f.Log.Level
		case "log-format":
			cfg.Log.Format = f.Log.Format
		case "db":
			cfg.DBPath = f.DBPath
		case "metrics-path":
			cfg.MetricsPath = f.MetricsPath
		case "ui-path":
			cfg.UIPath = f.UIPath
		case "poll":
			cfg.PollInterval = f.PollInterval
		case "job-timeout":
			cfg.JobTimeout = f.JobTimeout
		case "host-timeout":
			cfg.HostTimeout = f.HostTimeout
		case "agent-keys":
			cfg.AgentKeysFile = f.AgentKeysFile
		}
	})
}

func resolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".clusterq")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "clusterq.db"), nil
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	dbPath, err := resolveDBPath(cfg.DBPath)
	if err != nil {
		return err
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", dbPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	queue := actionqueue.New(logger, m)
	machine := lifecycle.New(logger, lifecycle.WithMetrics(m))
	registry := hosts.NewRegistry(queue, hosts.Config{HostTimeout: cfg.HostTimeout}, logger, hosts.WithMetrics(m))
	loop := scheduler.NewLoop(machine, queue, registry, st,
		scheduler.Config{PollInterval: cfg.PollInterval, JobTimeout: cfg.JobTimeout}, logger)

	restored, err := loop.Restore(context.Background())
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	logger.Info("jobs restored", "count", restored)

	serverOpts := []server.Option{server.WithMetrics(m)}

	agentKeys, err := server.LoadAgentKeyConfig(cfg.AgentKeysFile)
	if err != nil {
		return err
	}
	if agentKeys.IsEnabled() {
		serverOpts = append(serverOpts, server.WithAgentKeys(agentKeys))
		logger.Info("agent key authentication enabled", "keys", len(agentKeys.Keys))
	} else {
		logger.Warn("agent key authentication disabled", "hint", "set --agent-keys or CLUSTERQ_AGENT_KEYS")
	}

	srv := server.New(cfg, st, loop, queue, registry, machine, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr, "metrics", cfg.MetricsPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Stop scheduler before HTTP server.
		if err := loop.Stop(); err != nil {
			logger.Error("scheduler stop error", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
