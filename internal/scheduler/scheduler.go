package scheduler

import (
	"context"
	"time"

	"github.com/me/clusterq/pkg/model"
)

// Scheduler turns job specs into host commands, drives jobs through their
// lifecycle and enforces job timeouts.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error

	// Submit creates a job from spec and records its plan.
	Submit(ctx context.Context, spec model.JobSpec) (model.Job, error)

	// Ingest applies an agent's command result to the owning job.
	Ingest(ctx context.Context, result model.CommandResult) (model.Job, error)

	// Apply applies a raw job event and persists it when accepted.
	Apply(ctx context.Context, ev model.JobEvent) (model.Job, error)

	// Abort gives up on a job.
	Abort(ctx context.Context, id model.JobID, reason string) (model.Job, error)
}

// Dispatcher accepts commands for delivery to a host.
type Dispatcher interface {
	Enqueue(host string, cmd model.Command) bool
}

// HostDirectory reports host state and expires hosts that stopped
// heartbeating.
type HostDirectory interface {
	Get(name string) (model.Host, bool)
	Sweep(ctx context.Context, now time.Time) []string
}
