// Package agent implements the host-side loop that heartbeats to the
// clusterq server, runs the commands it receives and reports results.
package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/me/clusterq/internal/config"
	"github.com/me/clusterq/pkg/model"
)

// ErrDecommissioned is returned by Run when the server retired this host.
var ErrDecommissioned = errors.New("host decommissioned by server")

// Agent registers a host, heartbeats every interval and executes the
// commands each heartbeat delivers, one at a time.
type Agent struct {
	client   *Client
	handler  Handler
	reg      model.HostRegistration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	tlsCfg   *tls.Config
}

// Option configures an Agent.
type Option func(*Agent)

// WithTLSConfig sets the TLS configuration used to reach the server.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(a *Agent) {
		a.tlsCfg = cfg
	}
}

// WithHandler replaces the default ShellHandler.
func WithHandler(h Handler) Option {
	return func(a *Agent) {
		a.handler = h
	}
}

// New creates an Agent from configuration.
func New(cfg config.AgentConfig, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	a := &Agent{
		handler: NewShellHandler(cfg.Shell, workDir),
		reg: model.HostRegistration{
			Name:    cfg.Name,
			Address: cfg.Address,
			OS:      runtime.GOOS,
			Labels:  cfg.Labels,
		},
		interval: cfg.HeartbeatInterval,
		logger:   logger.With("component", "agent", "host", cfg.Name),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.client = NewClient(cfg.ServerURL, cfg.Name, a.tlsCfg)
	a.client.SetAgentKey(cfg.AgentKey)
	return a, nil
}

// Run registers with the server, then heartbeats until ctx is cancelled or
// the host is decommissioned.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.Cycle(ctx); err != nil {
			if errors.Is(err, ErrDecommissioned) {
				return err
			}
			a.logger.Warn("heartbeat cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	host, err := a.client.Register(ctx, a.reg)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.logger.Info("registered with server", "state", host.State, "address", host.Address)
	return nil
}

// Cycle performs one heartbeat and executes every delivered command. An
// unknown-host response triggers re-registration, which happens after a
// server restart since the host registry is held in memory.
func (a *Agent) Cycle(ctx context.Context) error {
	cmds, err := a.client.Heartbeat(ctx)
	switch statusCode(err) {
	case 0:
	case http.StatusNotFound:
		a.logger.Info("server does not know this host, registering again")
		if err := a.register(ctx); err != nil {
			return err
		}
		cmds, err = a.client.Heartbeat(ctx)
	case http.StatusGone:
		return ErrDecommissioned
	}
	if err != nil {
		return err
	}

	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.execute(ctx, cmd)
	}
	return nil
}

// execute runs one command, reporting RUNNING first and the outcome after.
func (a *Agent) execute(ctx context.Context, cmd model.Command) {
	logger := a.logger.With("command_id", cmd.ID, "job_id", cmd.JobID, "kind", cmd.Kind, "target", cmd.Target)
	logger.Info("command received")

	a.report(ctx, logger, resultFor(cmd, model.CommandRunning))

	res := a.handler.Handle(ctx, cmd)

	out := resultFor(cmd, model.CommandSuccess)
	out.ExitCode = res.ExitCode
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	if res.Failed() {
		out.Status = model.CommandFailed
		if res.Err != nil {
			out.Reason = res.Err.Error()
		}
	}
	done := a.now().UTC()
	out.CompletedAt = &done

	logger.Info("command finished", "status", out.Status, "exit_code", out.ExitCode)
	a.report(ctx, logger, out)
}

func (a *Agent) report(ctx context.Context, logger *slog.Logger, r model.CommandResult) {
	if err := a.client.Report(ctx, r); err != nil {
		// The job may have been aborted or completed by another host.
		if statusCode(err) == http.StatusConflict {
			logger.Info("result rejected by server", "status", r.Status, "error", err)
			return
		}
		logger.Error("report result", "status", r.Status, "error", err)
	}
}

func resultFor(cmd model.Command, status model.CommandStatus) model.CommandResult {
	return model.CommandResult{
		CommandID: cmd.ID,
		JobID:     cmd.JobID,
		Host:      cmd.Host,
		Kind:      cmd.Kind,
		Target:    cmd.Target,
		Status:    status,
	}
}
