// Package lifecycle applies JobEvents to Jobs.
//
// Events for one job are serialized by a per-job mutex; events for
// different jobs proceed independently. The machine performs no I/O and owns
// no timers: timeouts are detected by the scheduler, which then applies an
// Aborted event like any other producer.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/pkg/model"
)

// Machine owns every Job known to the server.
type Machine struct {
	mu      sync.RWMutex
	jobs    map[model.JobID]*entry
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type entry struct {
	mu  sync.Mutex
	job model.Job
}

// Option configures optional Machine dependencies.
type Option func(*Machine)

// WithClock overrides the clock used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithMetrics records every applied, idempotent and rejected event.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// New creates an empty Machine.
func New(logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		jobs:   make(map[model.JobID]*entry),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply applies ev to the job it names and returns a copy of the job after
// the call. changed reports whether the job's state moved; accepted no-ops
// (InProgress re-affirmation, identical terminal re-delivery) return
// changed == false and a nil error.
//
// Rejections leave the job untouched and return *model.IllegalTransitionError
// or *model.AlreadyTerminalError. Events other than Created for an unknown
// job return model.ErrUnknownJob.
func (m *Machine) Apply(ev model.JobEvent) (job model.Job, changed bool, err error) {
	if c, ok := ev.(model.Created); ok {
		return m.create(c)
	}

	e := m.lookup(ev.JobID())
	if e == nil {
		m.metrics.JobTransition(ev.Type().String(), metrics.OutcomeRejected)
		return model.Job{}, false, fmt.Errorf("job %s: %w", ev.JobID(), model.ErrUnknownJob)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.job.State
	next, changed, err := transition(e.job, ev, m.now())
	if err != nil {
		m.metrics.JobTransition(ev.Type().String(), metrics.OutcomeRejected)
		m.logger.Debug("event rejected", "job_id", ev.JobID(), "event", ev.Type(), "state", prev, "error", err)
		return clone(e.job), false, err
	}
	e.job = next
	if !changed {
		m.metrics.JobTransition(ev.Type().String(), metrics.OutcomeIdempotent)
		return clone(e.job), false, nil
	}

	m.metrics.JobTransition(ev.Type().String(), metrics.OutcomeApplied)
	m.logger.Info("job transition", "job_id", ev.JobID(), "event", ev.Type(), "from", prev, "to", next.State)
	return clone(e.job), true, nil
}

func (m *Machine) create(c model.Created) (model.Job, bool, error) {
	m.mu.Lock()
	if existing, ok := m.jobs[c.Job]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		defer existing.mu.Unlock()
		m.metrics.JobTransition(c.Type().String(), metrics.OutcomeRejected)
		if existing.job.State.IsTerminal() {
			return clone(existing.job), false, &model.AlreadyTerminalError{
				JobID: c.Job, State: existing.job.State, Event: c.Type(),
			}
		}
		return clone(existing.job), false, &model.IllegalTransitionError{
			JobID: c.Job, State: existing.job.State, Event: c.Type(), Detail: "job already exists",
		}
	}

	now := m.now()
	e := &entry{job: model.Job{
		ID:        c.Job,
		State:     model.JobStateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	m.jobs[c.Job] = e
	m.mu.Unlock()

	m.metrics.JobTransition(c.Type().String(), metrics.OutcomeApplied)
	m.logger.Info("job created", "job_id", c.Job)
	return clone(e.job), true, nil
}

func (m *Machine) lookup(id model.JobID) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Get returns a copy of the job.
func (m *Machine) Get(id model.JobID) (model.Job, bool) {
	e := m.lookup(id)
	if e == nil {
		return model.Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.job), true
}

// List returns copies of all jobs ordered by creation time, then ID.
func (m *Machine) List() []model.Job {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	jobs := make([]model.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, clone(e.job))
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// InState returns copies of all jobs currently in one of states.
func (m *Machine) InState(states ...model.JobState) []model.Job {
	var out []model.Job
	for _, j := range m.List() {
		for _, s := range states {
			if j.State == s {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

// Restore installs a previously persisted job. It fails if the job is
// already known or carries an unknown state.
func (m *Machine) Restore(job model.Job) error {
	if job.ID == "" {
		return fmt.Errorf("restore: empty job id")
	}
	if !job.State.Valid() {
		return fmt.Errorf("restore job %s: invalid state %q", job.ID, job.State)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("restore job %s: already loaded", job.ID)
	}
	m.jobs[job.ID] = &entry{job: clone(job)}
	return nil
}

// Len returns the number of known jobs.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// clone detaches pointer fields so callers cannot reach machine state.
func clone(j model.Job) model.Job {
	if j.CompletionTime != nil {
		ct := *j.CompletionTime
		j.CompletionTime = &ct
	}
	if j.Report != nil {
		r := *j.Report
		j.Report = &r
	}
	return j
}
