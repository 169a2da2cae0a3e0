package store

import (
	"context"

	"github.com/me/clusterq/pkg/model"
)

// Store defines the persistence layer for clusterq jobs. The in-memory
// lifecycle machine is authoritative while the server runs; the store is
// written after every accepted transition and read back on startup.
type Store interface {
	// Jobs
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id model.JobID) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error)

	// Event history
	AppendEvent(ctx context.Context, ev model.EventMessage) (*model.EventRecord, error)
	ListEvents(ctx context.Context, id model.JobID) ([]*model.EventRecord, error)

	// Job plans
	SaveCommands(ctx context.Context, id model.JobID, cmds []model.Command) error
	ListCommands(ctx context.Context, id model.JobID) ([]*model.PlannedCommand, error)
	UpdateCommand(ctx context.Context, result *model.CommandResult) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
