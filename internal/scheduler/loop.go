package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/clusterq/internal/lifecycle"
	"github.com/me/clusterq/internal/store"
	"github.com/me/clusterq/pkg/model"
)

// TimeoutReason is the Aborted reason used for jobs that exceed JobTimeout.
const TimeoutReason = "timeout"

// Config holds scheduler configuration.
type Config struct {
	PollInterval time.Duration
	JobTimeout   time.Duration // Scheduled/InProgress jobs without progress for this long are aborted
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		JobTimeout:   10 * time.Minute,
	}
}

// Loop implements the Scheduler interface with a polling-based scheduling loop.
type Loop struct {
	machine *lifecycle.Machine
	queue   Dispatcher
	hosts   HostDirectory
	store   store.Store
	config  Config
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	plans map[model.JobID]*plan

	// locks keeps each job's persisted history in the order its events
	// were applied.
	locks jobLocks

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures optional Loop dependencies.
type Option func(*Loop)

// WithClock overrides the clock used for timeouts and command stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// NewLoop creates a new scheduler loop. hosts may be nil, in which case no
// host sweep runs and host state is not checked.
func NewLoop(m *lifecycle.Machine, q Dispatcher, hosts HostDirectory, st store.Store, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		machine: m,
		queue:   q,
		hosts:   hosts,
		store:   st,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "scheduler"),
		plans:   make(map[model.JobID]*plan),
		locks:   jobLocks{locks: make(map[model.JobID]*jobLock)},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "poll_interval", l.config.PollInterval, "job_timeout", l.config.JobTimeout)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()

	// Phase 1: Hand commands of Created jobs to the action queue.
	if err := l.dispatchCreated(ctx); err != nil {
		return fmt.Errorf("phase 1 (dispatch): %w", err)
	}

	// Phase 2: Abort jobs that made no progress within JobTimeout.
	if err := l.abortStale(ctx, now); err != nil {
		return fmt.Errorf("phase 2 (timeouts): %w", err)
	}

	// Phase 3: Mark silent hosts lost.
	if l.hosts != nil {
		l.hosts.Sweep(ctx, now)
	}

	return nil
}

// dispatchCreated moves every Created job to Scheduled and then enqueues its
// planned commands. Jobs that target a decommissioned host are aborted.
func (l *Loop) dispatchCreated(ctx context.Context) error {
	for _, job := range l.machine.InState(model.JobStateCreated) {
		cmds := l.commandsOf(job.ID)
		if cmds == nil {
			l.logger.Debug("created job has no plan yet", "job_id", job.ID)
			continue
		}
		if host := l.decommissioned(cmds); host != "" {
			reason := "host " + host + " decommissioned"
			if _, err := l.Apply(ctx, model.Aborted{Job: job.ID, Reason: reason}); err != nil {
				l.logger.Error("abort job", "job_id", job.ID, "error", err)
				continue
			}
			l.logger.Warn("job aborted", "job_id", job.ID, "reason", reason)
			continue
		}
		// Results may arrive as soon as a command is queued, so the job
		// must be Scheduled first.
		if _, err := l.Apply(ctx, model.Scheduled{Job: job.ID}); err != nil {
			l.logger.Error("schedule job", "job_id", job.ID, "error", err)
			continue
		}
		for _, c := range cmds {
			if !l.queue.Enqueue(c.Host, c) {
				l.logger.Debug("command already queued", "job_id", job.ID, "command_id", c.ID, "host", c.Host)
			}
		}
		l.logger.Info("job scheduled", "job_id", job.ID, "commands", len(cmds))
	}
	return nil
}

// decommissioned returns the first host of cmds that was decommissioned, or
// "" if there is none.
func (l *Loop) decommissioned(cmds []model.Command) string {
	if l.hosts == nil {
		return ""
	}
	for _, c := range cmds {
		if h, ok := l.hosts.Get(c.Host); ok && h.State == model.HostStateDecommissioned {
			return c.Host
		}
	}
	return ""
}

// abortStale aborts Scheduled and InProgress jobs whose last update is older
// than JobTimeout.
func (l *Loop) abortStale(ctx context.Context, now time.Time) error {
	if l.config.JobTimeout <= 0 {
		return nil
	}
	for _, job := range l.machine.InState(model.JobStateScheduled, model.JobStateInProgress) {
		if now.Sub(job.UpdatedAt) <= l.config.JobTimeout {
			continue
		}
		_, err := l.Apply(ctx, model.Aborted{Job: job.ID, Reason: TimeoutReason})
		switch {
		case err == nil:
			l.logger.Warn("job timed out", "job_id", job.ID, "state", job.State, "last_update", job.UpdatedAt)
		case errors.Is(err, model.ErrAlreadyTerminal):
			// Finished between the scan and the abort.
		default:
			l.logger.Error("abort stale job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// Submit creates a job from spec, records its plan and persists both. The
// job's commands are dispatched on the next tick.
func (l *Loop) Submit(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	if errs := spec.Validate(); len(errs) > 0 {
		return model.Job{}, model.NewValidationError("invalid job spec", errs...)
	}
	if l.hosts != nil {
		for i, t := range spec.Tasks {
			if h, ok := l.hosts.Get(t.Host); ok && h.State == model.HostStateDecommissioned {
				return model.Job{}, fmt.Errorf("task %d: host %s: %w", i, t.Host, model.ErrHostDecommissioned)
			}
		}
	}

	id := model.JobID("job_" + uuid.New().String())
	cmds := buildCommands(id, spec, func() string { return "cmd_" + uuid.New().String() }, l.now())

	job, err := l.Apply(ctx, model.Created{Job: id})
	if err != nil {
		return job, err
	}
	if err := l.store.SaveCommands(ctx, id, cmds); err != nil {
		return job, fmt.Errorf("save plan for job %s: %w", id, err)
	}

	// Publish the plan last so a concurrent tick never dispatches a job
	// whose plan is not yet stored.
	l.mu.Lock()
	l.plans[id] = newPlan(cmds)
	l.mu.Unlock()

	l.logger.Info("job submitted", "job_id", id, "commands", len(cmds))
	return job, nil
}

// Ingest applies an agent's command result to the owning job.
//
// RUNNING advances the job to InProgress, FAILED fails it, and SUCCESS
// records the command; once every planned command succeeded the job is
// Completed at the latest command completion time.
func (l *Loop) Ingest(ctx context.Context, r model.CommandResult) (model.Job, error) {
	if !r.Status.Valid() {
		return model.Job{}, model.NewValidationError("invalid result",
			model.FieldError{Field: "status", Message: "unknown status " + string(r.Status)})
	}
	if r.JobID == "" {
		return model.Job{}, model.NewValidationError("invalid result",
			model.FieldError{Field: "job_id", Message: "job_id is required"})
	}
	if r.Status != model.CommandRunning && r.CompletedAt == nil {
		now := l.now()
		r.CompletedAt = &now
	}

	if _, ok := l.machine.Get(r.JobID); !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", r.JobID, model.ErrUnknownJob)
	}

	unlock := l.locks.lock(r.JobID)
	defer unlock()

	l.mu.Lock()
	p := l.plans[r.JobID]
	if p == nil {
		l.mu.Unlock()
		job, _ := l.machine.Get(r.JobID)
		return job, fmt.Errorf("job %s has no plan: %w", r.JobID, model.ErrUnknownCommand)
	}
	cmd, ok := p.match(r)
	if !ok {
		l.mu.Unlock()
		job, _ := l.machine.Get(r.JobID)
		return job, fmt.Errorf("command %s of job %s: %w", r.Key(), r.JobID, model.ErrUnknownCommand)
	}
	prev, hadPrev := p.results[cmd.ID]
	p.record(cmd, r)
	var ev model.JobEvent
	switch r.Status {
	case model.CommandRunning:
		ev = model.InProgress{Job: r.JobID}
	case model.CommandFailed:
		ev = model.Failed{Job: r.JobID, Reason: failureReason(cmd, r)}
	case model.CommandSuccess:
		if p.succeeded() {
			ev = p.completion(r.JobID)
		} else {
			ev = model.InProgress{Job: r.JobID}
		}
	}
	l.mu.Unlock()

	job, accepted, err := l.applyLocked(ctx, ev)
	if !accepted {
		// The job rejected the result: it must not count towards a later
		// completion.
		l.mu.Lock()
		if hadPrev {
			p.results[cmd.ID] = prev
		} else {
			delete(p.results, cmd.ID)
		}
		l.mu.Unlock()
		return job, err
	}

	r.CommandID = cmd.ID
	r.Host = cmd.Host
	if err := l.store.UpdateCommand(ctx, &r); err != nil {
		l.logger.Error("store command result", "job_id", r.JobID, "command_id", cmd.ID, "error", err)
	}
	l.logger.Debug("command result", "job_id", r.JobID, "command_id", cmd.ID, "host", cmd.Host, "status", r.Status)
	return job, err
}

// Abort gives up on a job.
func (l *Loop) Abort(ctx context.Context, id model.JobID, reason string) (model.Job, error) {
	if reason == "" {
		reason = "aborted"
	}
	return l.Apply(ctx, model.Aborted{Job: id, Reason: reason})
}

// Apply applies ev to the lifecycle machine and persists it when the job's
// state changed. Accepted no-ops are not persisted.
func (l *Loop) Apply(ctx context.Context, ev model.JobEvent) (model.Job, error) {
	unlock := l.locks.lock(ev.JobID())
	defer unlock()
	job, _, err := l.applyLocked(ctx, ev)
	return job, err
}

// applyLocked is Apply for callers holding the job's lock. accepted reports
// whether the lifecycle machine took the event, even if persisting it failed.
func (l *Loop) applyLocked(ctx context.Context, ev model.JobEvent) (job model.Job, accepted bool, err error) {
	job, changed, err := l.machine.Apply(ev)
	if err != nil {
		return job, false, err
	}
	if !changed {
		return job, true, nil
	}
	if err := l.persist(ctx, &job, ev); err != nil {
		return job, true, err
	}
	return job, true, nil
}

// persist writes the job row and appends ev to its history.
func (l *Loop) persist(ctx context.Context, job *model.Job, ev model.JobEvent) error {
	if err := l.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if _, err := l.store.AppendEvent(ctx, model.MessageOf(ev)); err != nil {
		return fmt.Errorf("append %s event for job %s: %w", ev.Type(), job.ID, err)
	}
	return nil
}

// Restore loads every persisted job into the lifecycle machine and rebuilds
// every job's plan, finished ones included so redelivered results are
// recognised. Commands of Scheduled and InProgress jobs
// that never reported a result are enqueued again, since the action queue
// does not survive a restart.
func (l *Loop) Restore(ctx context.Context) (int, error) {
	opts := model.ListOptions{Limit: 100}
	restored := 0
	for {
		jobs, total, err := l.store.ListJobs(ctx, opts)
		if err != nil {
			return restored, fmt.Errorf("list jobs: %w", err)
		}
		for _, job := range jobs {
			if err := l.restoreJob(ctx, job); err != nil {
				return restored, err
			}
			restored++
		}
		opts.Offset += len(jobs)
		if len(jobs) == 0 || opts.Offset >= total {
			break
		}
	}
	l.logger.Info("jobs restored", "count", restored)
	return restored, nil
}

func (l *Loop) restoreJob(ctx context.Context, job *model.Job) error {
	if err := l.machine.Restore(*job); err != nil {
		return err
	}

	planned, err := l.store.ListCommands(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list commands for job %s: %w", job.ID, err)
	}
	cmds := make([]model.Command, 0, len(planned))
	for _, pc := range planned {
		cmds = append(cmds, pc.Command)
	}
	p := newPlan(cmds)
	requeued := 0
	for _, pc := range planned {
		if pc.Status == model.CommandSuccess || pc.Status == model.CommandFailed {
			p.record(pc.Command, model.CommandResult{
				CommandID:   pc.ID,
				JobID:       pc.JobID,
				Host:        pc.Host,
				Kind:        pc.Kind,
				Target:      pc.Target,
				Status:      pc.Status,
				ExitCode:    pc.ExitCode,
				Stdout:      pc.Stdout,
				Stderr:      pc.Stderr,
				Reason:      pc.Reason,
				CompletedAt: pc.CompletedAt,
			})
			continue
		}
		if job.State != model.JobStateCreated && !job.IsTerminal() {
			if l.queue.Enqueue(pc.Host, pc.Command) {
				requeued++
			}
		}
	}

	l.mu.Lock()
	l.plans[job.ID] = p
	l.mu.Unlock()
	if requeued > 0 {
		l.logger.Info("commands requeued", "job_id", job.ID, "count", requeued)
	}
	return nil
}

func (l *Loop) commandsOf(id model.JobID) []model.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.plans[id]
	if p == nil {
		return nil
	}
	return p.commands
}

// jobLocks hands out one mutex per job. Entries are dropped once no
// goroutine holds or waits for them.
type jobLocks struct {
	mu    sync.Mutex
	locks map[model.JobID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the lock for id and returns its release function.
func (j *jobLocks) lock(id model.JobID) func() {
	j.mu.Lock()
	jl := j.locks[id]
	if jl == nil {
		jl = &jobLock{}
		j.locks[id] = jl
	}
	jl.refs++
	j.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		j.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(j.locks, id)
		}
		j.mu.Unlock()
	}
}
