package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/clusterq/internal/actionqueue"
	"github.com/me/clusterq/internal/hosts"
	"github.com/me/clusterq/internal/lifecycle"
	"github.com/me/clusterq/internal/store"
	"github.com/me/clusterq/pkg/model"
)

type harness struct {
	loop    *Loop
	machine *lifecycle.Machine
	queue   *actionqueue.Queue
	hosts   *hosts.Registry
	store   store.Store

	mu    sync.Mutex
	clock time.Time
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

// testSetup wires a Loop to an in-memory store, a real lifecycle machine,
// action queue and host registry, all sharing one controllable clock.
func testSetup(t *testing.T) *harness {
	t.Helper()
	st := openStore(t)
	return newHarness(t, st, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func openStore(t *testing.T) store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newHarness(t *testing.T, st store.Store, start time.Time) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{store: st, clock: start}
	h.machine = lifecycle.New(logger, lifecycle.WithClock(h.now))
	h.queue = actionqueue.New(logger, nil)
	h.hosts = hosts.NewRegistry(h.queue, hosts.Config{HostTimeout: time.Minute}, logger, hosts.WithClock(h.now))
	cfg := Config{PollInterval: 10 * time.Millisecond, JobTimeout: 5 * time.Minute}
	h.loop = NewLoop(h.machine, h.queue, h.hosts, st, cfg, logger, WithClock(h.now))
	return h
}

func twoHostSpec() model.JobSpec {
	return model.JobSpec{Tasks: []model.TaskSpec{
		{Host: "node-1", Kind: model.CommandInstall, Target: "HDFS"},
		{Host: "node-2", Kind: model.CommandExecute, Target: "smoke", Params: map[string]string{"script": "true"}},
	}}
}

// submitAndDispatch submits spec, runs one tick and returns the job id and
// the commands drained per host.
func submitAndDispatch(t *testing.T, h *harness, spec model.JobSpec) (model.JobID, map[string][]model.Command) {
	t.Helper()
	ctx := context.Background()
	job, err := h.loop.Submit(ctx, spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	drained := make(map[string][]model.Command)
	for _, task := range spec.Tasks {
		if _, ok := drained[task.Host]; !ok {
			drained[task.Host] = h.queue.DequeueAll(task.Host)
		}
	}
	return job.ID, drained
}

func result(c model.Command, status model.CommandStatus, at time.Time, stdout string) model.CommandResult {
	return model.CommandResult{
		CommandID:   c.ID,
		JobID:       c.JobID,
		Kind:        c.Kind,
		Target:      c.Target,
		Status:      status,
		Stdout:      stdout,
		CompletedAt: &at,
	}
}

func TestSubmit_CreatesJobAndPlan(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()

	job, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(string(job.ID), "job_") {
		t.Errorf("ID = %q, want job_ prefix", job.ID)
	}
	if job.State != model.JobStateCreated {
		t.Errorf("State = %s, want CREATED", job.State)
	}

	stored, err := h.store.GetJob(ctx, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetJob = %v, %v", stored, err)
	}
	planned, err := h.store.ListCommands(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(planned) != 2 || planned[0].Host != "node-1" || planned[1].Params["script"] != "true" {
		t.Errorf("planned = %+v", planned)
	}
	// Nothing is queued before the first tick.
	if hostsWithQueues := h.queue.Hosts(); len(hostsWithQueues) != 0 {
		t.Errorf("queues before tick = %v", hostsWithQueues)
	}
}

func TestSubmit_InvalidSpec(t *testing.T) {
	h := testSetup(t)
	_, err := h.loop.Submit(context.Background(), model.JobSpec{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
		t.Fatalf("error = %v, want validation error", err)
	}
	if h.machine.Len() != 0 {
		t.Errorf("machine has %d jobs, want 0", h.machine.Len())
	}
}

func TestTick_DispatchesCreatedJobs(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()

	id, drained := submitAndDispatch(t, h, twoHostSpec())

	job, _ := h.machine.Get(id)
	if job.State != model.JobStateScheduled {
		t.Errorf("State = %s, want SCHEDULED", job.State)
	}
	if len(drained["node-1"]) != 1 || drained["node-1"][0].Kind != model.CommandInstall {
		t.Errorf("node-1 commands = %+v", drained["node-1"])
	}
	if len(drained["node-2"]) != 1 || drained["node-2"][0].Target != "smoke" {
		t.Errorf("node-2 commands = %+v", drained["node-2"])
	}

	events, err := h.store.ListEvents(ctx, id)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[1].Event.Type != model.JobEventScheduled {
		t.Errorf("events = %+v", events)
	}

	// A second tick does not dispatch again.
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n, _ := h.queue.Size("node-1"); n != 0 {
		t.Errorf("node-1 size after second tick = %d, want 0", n)
	}
}

func TestIngest_CompletesWhenAllSucceed(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, drained := submitAndDispatch(t, h, twoHostSpec())
	c1, c2 := drained["node-1"][0], drained["node-2"][0]

	job, err := h.loop.Ingest(ctx, model.CommandResult{CommandID: c1.ID, JobID: id, Status: model.CommandRunning})
	if err != nil {
		t.Fatalf("Ingest(RUNNING): %v", err)
	}
	if job.State != model.JobStateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", job.State)
	}

	t2 := h.now().Add(2 * time.Second)
	t1 := h.now().Add(5 * time.Second)
	job, err = h.loop.Ingest(ctx, result(c2, model.CommandSuccess, t2, "smoke ok\n"))
	if err != nil {
		t.Fatalf("Ingest(SUCCESS c2): %v", err)
	}
	if job.State != model.JobStateInProgress {
		t.Errorf("State after first success = %s, want IN_PROGRESS", job.State)
	}

	job, err = h.loop.Ingest(ctx, result(c1, model.CommandSuccess, t1, "installed"))
	if err != nil {
		t.Fatalf("Ingest(SUCCESS c1): %v", err)
	}
	if job.State != model.JobStateCompleted {
		t.Fatalf("State = %s, want COMPLETED", job.State)
	}
	if !job.CompletionTime.Equal(t1) {
		t.Errorf("CompletionTime = %v, want latest command completion %v", job.CompletionTime, t1)
	}
	wantStdout := "[node-1 INSTALL HDFS]\ninstalled\n[node-2 EXECUTE smoke]\nsmoke ok"
	if job.Report == nil || job.Report.Stdout != wantStdout {
		t.Errorf("Report = %+v, want stdout %q", job.Report, wantStdout)
	}

	stored, _ := h.store.GetJob(ctx, id)
	if stored.State != model.JobStateCompleted || !stored.CompletionTime.Equal(t1) {
		t.Errorf("stored job = %+v", stored)
	}
	planned, _ := h.store.ListCommands(ctx, id)
	for _, pc := range planned {
		if pc.Status != model.CommandSuccess {
			t.Errorf("command %s status = %s, want SUCCESS", pc.ID, pc.Status)
		}
	}

	// A redelivered identical result is accepted as a no-op.
	job, err = h.loop.Ingest(ctx, result(c1, model.CommandSuccess, t1, "installed"))
	if err != nil {
		t.Fatalf("redelivered SUCCESS: %v", err)
	}
	if job.State != model.JobStateCompleted || !job.CompletionTime.Equal(t1) {
		t.Errorf("job after redelivery = %+v", job)
	}
	events, _ := h.store.ListEvents(ctx, id)
	if len(events) != 4 {
		t.Errorf("events = %d, want 4 (redelivery is not persisted)", len(events))
	}
}

func TestIngest_LateDifferentResultRejected(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, drained := submitAndDispatch(t, h, twoHostSpec())
	c1, c2 := drained["node-1"][0], drained["node-2"][0]
	at := h.now()

	if _, err := h.loop.Ingest(ctx, result(c1, model.CommandSuccess, at, "installed")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.loop.Ingest(ctx, result(c2, model.CommandSuccess, at, "smoke ok")); err != nil {
		t.Fatal(err)
	}

	_, err := h.loop.Ingest(ctx, result(c1, model.CommandSuccess, at, "other output"))
	if !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("different stdout error = %v, want ErrAlreadyTerminal", err)
	}
	r := result(c2, model.CommandFailed, at, "")
	r.ExitCode = 1
	if _, err := h.loop.Ingest(ctx, r); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("late FAILED error = %v, want ErrAlreadyTerminal", err)
	}

	// Rejected results leave the plan and the stored commands untouched, so
	// the original outcome is still accepted as a redelivery.
	job, err := h.loop.Ingest(ctx, result(c1, model.CommandSuccess, at, "installed"))
	if err != nil {
		t.Fatalf("redelivered SUCCESS after rejections: %v", err)
	}
	if job.State != model.JobStateCompleted {
		t.Errorf("State = %s, want COMPLETED", job.State)
	}
	planned, _ := h.store.ListCommands(ctx, id)
	for _, pc := range planned {
		if pc.Status != model.CommandSuccess {
			t.Errorf("command %s status = %s, want SUCCESS", pc.ID, pc.Status)
		}
		if pc.ID == c1.ID && pc.Stdout != "installed" {
			t.Errorf("command %s stdout = %q, want installed", pc.ID, pc.Stdout)
		}
	}
}

// syncDispatcher delivers each command to a fake agent that reports RUNNING
// and SUCCESS before Enqueue returns.
type syncDispatcher struct {
	loop *Loop
	errs []error
}

func (d *syncDispatcher) Enqueue(host string, cmd model.Command) bool {
	ctx := context.Background()
	for _, status := range []model.CommandStatus{model.CommandRunning, model.CommandSuccess} {
		r := model.CommandResult{CommandID: cmd.ID, JobID: cmd.JobID, Host: host, Status: status}
		if _, err := d.loop.Ingest(ctx, r); err != nil {
			d.errs = append(d.errs, fmt.Errorf("%s %s: %w", host, status, err))
		}
	}
	return true
}

func TestTick_ResultsDuringDispatch(t *testing.T) {
	st := openStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	machine := lifecycle.New(logger)
	d := &syncDispatcher{}
	loop := NewLoop(machine, d, nil, st, DefaultConfig(), logger)
	d.loop = loop
	ctx := context.Background()

	job, err := loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}
	if err := loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	for _, err := range d.errs {
		t.Errorf("Ingest during dispatch: %v", err)
	}
	got, _ := machine.Get(job.ID)
	if got.State != model.JobStateCompleted {
		t.Fatalf("State = %s, want COMPLETED", got.State)
	}
	events, _ := st.ListEvents(ctx, job.ID)
	want := []model.JobEventType{
		model.JobEventCreated, model.JobEventScheduled, model.JobEventInProgress, model.JobEventCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Event.Type != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, ev.Event.Type, want[i])
		}
	}
}

func TestIngest_RejectedResultNotRecorded(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	job, err := h.loop.Submit(ctx, model.JobSpec{Tasks: []model.TaskSpec{{Host: "node-1", Kind: model.CommandStart, Target: "DATANODE"}}})
	if err != nil {
		t.Fatal(err)
	}
	planned, _ := h.store.ListCommands(ctx, job.ID)
	c := planned[0].Command

	// SUCCESS before dispatch is illegal on a Created job.
	if _, err := h.loop.Ingest(ctx, result(c, model.CommandSuccess, h.now(), "")); !errors.Is(err, model.ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
	planned, _ = h.store.ListCommands(ctx, job.ID)
	if planned[0].Status == model.CommandSuccess {
		t.Errorf("rejected result was stored")
	}

	if err := h.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.machine.Get(job.ID)
	if got.State != model.JobStateScheduled {
		t.Errorf("State = %s, want SCHEDULED", got.State)
	}
	// The job completes only once the command reports again.
	done, err := h.loop.Ingest(ctx, result(c, model.CommandSuccess, h.now(), ""))
	if err != nil {
		t.Fatal(err)
	}
	if done.State != model.JobStateCompleted {
		t.Errorf("State = %s, want COMPLETED", done.State)
	}
}

func TestSubmit_DecommissionedHost(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	if _, err := h.hosts.Register(ctx, model.HostRegistration{Name: "node-2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.hosts.Decommission(ctx, "node-2"); err != nil {
		t.Fatal(err)
	}

	_, err := h.loop.Submit(ctx, twoHostSpec())
	if !errors.Is(err, model.ErrHostDecommissioned) {
		t.Fatalf("Submit error = %v, want ErrHostDecommissioned", err)
	}
	if jobs := h.machine.InState(model.JobStateCreated); len(jobs) != 0 {
		t.Errorf("created jobs = %d, want 0", len(jobs))
	}
}

func TestTick_AbortsJobOnDecommissionedHost(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	if _, err := h.hosts.Register(ctx, model.HostRegistration{Name: "node-2"}); err != nil {
		t.Fatal(err)
	}
	job, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.hosts.Decommission(ctx, "node-2"); err != nil {
		t.Fatal(err)
	}

	if err := h.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.machine.Get(job.ID)
	if got.State != model.JobStateAborted || got.Reason != "host node-2 decommissioned" {
		t.Errorf("job = %s %q, want ABORTED for node-2", got.State, got.Reason)
	}
	if n, _ := h.queue.Size("node-1"); n != 0 {
		t.Errorf("node-1 queue size = %d, want 0", n)
	}
	if n, _ := h.queue.Size("node-2"); n != 0 {
		t.Errorf("node-2 queue size = %d, want 0", n)
	}
}

func TestApply_OtherJobsNotBlocked(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	a, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}

	unlock := h.loop.locks.lock(a.ID)
	done := make(chan error, 1)
	go func() {
		_, err := h.loop.Abort(ctx, b.ID, "")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Abort(%s): %v", b.ID, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Abort of one job blocked on another job's lock")
	}

	go func() {
		_, err := h.loop.Abort(ctx, a.ID, "")
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("Abort ran while the job's lock was held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	if err := <-done; err != nil {
		t.Errorf("Abort(%s): %v", a.ID, err)
	}

	h.loop.locks.mu.Lock()
	n := len(h.loop.locks.locks)
	h.loop.locks.mu.Unlock()
	if n != 0 {
		t.Errorf("job locks = %d after release, want 0", n)
	}
}

func TestIngest_MatchesByKeyAndHost(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, _ := submitAndDispatch(t, h, twoHostSpec())

	job, err := h.loop.Ingest(ctx, model.CommandResult{
		JobID: id, Host: "node-2", Kind: model.CommandExecute, Target: "smoke", Status: model.CommandRunning,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if job.State != model.JobStateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", job.State)
	}

	_, err = h.loop.Ingest(ctx, model.CommandResult{
		JobID: id, Host: "node-1", Kind: model.CommandExecute, Target: "smoke", Status: model.CommandRunning,
	})
	if !errors.Is(err, model.ErrUnknownCommand) {
		t.Errorf("wrong host error = %v, want ErrUnknownCommand", err)
	}
}

func TestIngest_FailureFailsJob(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	_, drained := submitAndDispatch(t, h, twoHostSpec())
	c2 := drained["node-2"][0]

	r := result(c2, model.CommandFailed, h.now(), "")
	r.ExitCode = 2
	job, err := h.loop.Ingest(ctx, r)
	if err != nil {
		t.Fatalf("Ingest(FAILED): %v", err)
	}
	if job.State != model.JobStateFailed {
		t.Fatalf("State = %s, want FAILED", job.State)
	}
	if want := "EXECUTE smoke on node-2 exited with code 2"; job.Reason != want {
		t.Errorf("Reason = %q, want %q", job.Reason, want)
	}

	_, err = h.loop.Ingest(ctx, result(drained["node-1"][0], model.CommandSuccess, h.now(), ""))
	if !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("result after failure error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestIngest_Errors(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, _ := submitAndDispatch(t, h, twoHostSpec())

	tests := []struct {
		name   string
		result model.CommandResult
		check  func(error) bool
	}{
		{"unknown job", model.CommandResult{CommandID: "x", JobID: "job_missing", Status: model.CommandRunning},
			func(err error) bool { return errors.Is(err, model.ErrUnknownJob) }},
		{"unknown command", model.CommandResult{CommandID: "cmd_missing", JobID: id, Status: model.CommandRunning},
			func(err error) bool { return errors.Is(err, model.ErrUnknownCommand) }},
		{"bad status", model.CommandResult{CommandID: "x", JobID: id, Status: "DONE"},
			func(err error) bool {
				var apiErr *model.APIError
				return errors.As(err, &apiErr) && apiErr.Code == model.ErrValidation
			}},
		{"missing job id", model.CommandResult{CommandID: "x", Status: model.CommandRunning},
			func(err error) bool {
				var apiErr *model.APIError
				return errors.As(err, &apiErr) && apiErr.Code == model.ErrValidation
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.loop.Ingest(ctx, tt.result); !tt.check(err) {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestIngest_RunningBeforeDispatchIsIllegal(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	job, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}
	planned, _ := h.store.ListCommands(ctx, job.ID)

	_, err = h.loop.Ingest(ctx, model.CommandResult{CommandID: planned[0].ID, JobID: job.ID, Status: model.CommandRunning})
	if !errors.Is(err, model.ErrIllegalTransition) {
		t.Errorf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestTick_AbortsStaleJobs(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	stale, _ := submitAndDispatch(t, h, twoHostSpec())

	h.advance(4 * time.Minute)
	fresh, _ := submitAndDispatch(t, h, twoHostSpec())

	h.advance(2 * time.Minute)
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	job, _ := h.machine.Get(stale)
	if job.State != model.JobStateAborted || job.Reason != TimeoutReason {
		t.Errorf("stale job = %s (%q), want ABORTED (timeout)", job.State, job.Reason)
	}
	job, _ = h.machine.Get(fresh)
	if job.State != model.JobStateScheduled {
		t.Errorf("fresh job = %s, want SCHEDULED", job.State)
	}
	stored, _ := h.store.GetJob(ctx, stale)
	if stored.State != model.JobStateAborted {
		t.Errorf("stored stale job = %s, want ABORTED", stored.State)
	}
}

func TestTick_ProgressResetsTimeout(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, drained := submitAndDispatch(t, h, twoHostSpec())

	h.advance(4 * time.Minute)
	if _, err := h.loop.Ingest(ctx, model.CommandResult{CommandID: drained["node-1"][0].ID, JobID: id, Status: model.CommandRunning}); err != nil {
		t.Fatal(err)
	}
	h.advance(4 * time.Minute)
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if job, _ := h.machine.Get(id); job.State != model.JobStateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", job.State)
	}
}

func TestTick_SweepsHosts(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	if _, err := h.hosts.Register(ctx, model.HostRegistration{Name: "node-1"}); err != nil {
		t.Fatal(err)
	}
	h.advance(2 * time.Minute)
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if host, _ := h.hosts.Get("node-1"); host.State != model.HostStateLost {
		t.Errorf("host state = %s, want lost", host.State)
	}
}

func TestAbort(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	job, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}

	aborted, err := h.loop.Abort(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if aborted.State != model.JobStateAborted || aborted.Reason != "aborted" {
		t.Errorf("job = %+v", aborted)
	}

	// The aborted job is never dispatched.
	if err := h.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.queue.Hosts()) != 0 {
		t.Errorf("queues = %v, want none", h.queue.Hosts())
	}

	if _, err := h.loop.Abort(ctx, job.ID, "again"); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("second Abort error = %v, want ErrAlreadyTerminal", err)
	}
	if _, err := h.loop.Abort(ctx, "job_missing", ""); !errors.Is(err, model.ErrUnknownJob) {
		t.Errorf("Abort(unknown) error = %v, want ErrUnknownJob", err)
	}
}

func TestApply_IdempotentNotPersisted(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()
	id, _ := submitAndDispatch(t, h, twoHostSpec())

	for i := 0; i < 3; i++ {
		if _, err := h.loop.Apply(ctx, model.InProgress{Job: id}); err != nil {
			t.Fatalf("Apply(InProgress) #%d: %v", i, err)
		}
	}
	events, _ := h.store.ListEvents(ctx, id)
	if len(events) != 3 {
		t.Errorf("events = %d, want 3 (created, scheduled, in progress)", len(events))
	}
}

func TestRestore(t *testing.T) {
	st := openStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, st, start)
	ctx := context.Background()

	inFlight, drained := submitAndDispatch(t, h, twoHostSpec())
	if _, err := h.loop.Ingest(ctx, result(drained["node-1"][0], model.CommandSuccess, start, "installed")); err != nil {
		t.Fatal(err)
	}
	done, drained2 := submitAndDispatch(t, h, model.JobSpec{Tasks: []model.TaskSpec{{Host: "node-3", Kind: model.CommandStatusCheck}}})
	if _, err := h.loop.Ingest(ctx, result(drained2["node-3"][0], model.CommandSuccess, start, "")); err != nil {
		t.Fatal(err)
	}
	pending, err := h.loop.Submit(ctx, twoHostSpec())
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: fresh in-memory components over the same store.
	h2 := newHarness(t, st, start.Add(time.Second))
	n, err := h2.loop.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 3 {
		t.Errorf("restored = %d, want 3", n)
	}
	if job, _ := h2.machine.Get(done); job.State != model.JobStateCompleted {
		t.Errorf("done job = %s, want COMPLETED", job.State)
	}
	if got := h2.queue.DequeueAll("node-3"); len(got) != 0 {
		t.Errorf("node-3 requeued = %+v, want none", got)
	}
	// A finished job keeps its plan, so a redelivered result is recognised.
	if _, err := h2.loop.Ingest(ctx, result(drained2["node-3"][0], model.CommandSuccess, start, "")); err != nil {
		t.Errorf("redelivered result after restore: %v", err)
	}

	// The unfinished command of the in-flight job is queued again; the one
	// that already succeeded is not.
	if got := h2.queue.DequeueAll("node-1"); len(got) != 0 {
		t.Errorf("node-1 requeued = %+v, want none", got)
	}
	requeued := h2.queue.DequeueAll("node-2")
	if len(requeued) != 1 || requeued[0].JobID != inFlight {
		t.Fatalf("node-2 requeued = %+v", requeued)
	}

	// The created job is dispatched by the next tick.
	if err := h2.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if job, _ := h2.machine.Get(pending.ID); job.State != model.JobStateScheduled {
		t.Errorf("pending job = %s, want SCHEDULED", job.State)
	}

	// Completing the remaining command completes the in-flight job using the
	// restored result of the first one.
	job, err := h2.loop.Ingest(ctx, result(requeued[0], model.CommandSuccess, start.Add(time.Minute), "ok"))
	if err != nil {
		t.Fatalf("Ingest after restore: %v", err)
	}
	if job.State != model.JobStateCompleted || !job.CompletionTime.Equal(start.Add(time.Minute)) {
		t.Errorf("job = %+v", job)
	}
}

// TestIngest_ConcurrentResults reports every command of a wide job in
// parallel: the job must complete exactly once at the latest time.
func TestIngest_ConcurrentResults(t *testing.T) {
	h := testSetup(t)
	ctx := context.Background()

	const n = 32
	spec := model.JobSpec{}
	for i := 0; i < n; i++ {
		spec.Tasks = append(spec.Tasks, model.TaskSpec{Host: fmt.Sprintf("node-%d", i), Kind: model.CommandStart, Target: "DATANODE"})
	}
	id, drained := submitAndDispatch(t, h, spec)
	base := h.now()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c := drained[fmt.Sprintf("node-%d", i)][0]
		at := base.Add(time.Duration(i) * time.Second)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.loop.Ingest(ctx, result(c, model.CommandSuccess, at, "")); err != nil {
				t.Errorf("Ingest(%s): %v", c.Host, err)
			}
		}()
	}
	wg.Wait()

	job, _ := h.machine.Get(id)
	if job.State != model.JobStateCompleted {
		t.Fatalf("State = %s, want COMPLETED", job.State)
	}
	if want := base.Add((n - 1) * time.Second); !job.CompletionTime.Equal(want) {
		t.Errorf("CompletionTime = %v, want %v", job.CompletionTime, want)
	}
	events, _ := h.store.ListEvents(ctx, id)
	completed := 0
	for _, e := range events {
		if e.Event.Type == model.JobEventCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("persisted Completed events = %d, want 1", completed)
	}
}

func TestStartStop(t *testing.T) {
	h := testSetup(t)
	done := make(chan error, 1)
	go func() { done <- h.loop.Start(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	if err := h.loop.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
