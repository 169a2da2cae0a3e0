package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/clusterq/internal/actionqueue"
	"github.com/me/clusterq/internal/config"
	"github.com/me/clusterq/internal/hosts"
	"github.com/me/clusterq/internal/lifecycle"
	"github.com/me/clusterq/internal/scheduler"
	"github.com/me/clusterq/internal/server"
	"github.com/me/clusterq/internal/store"
	"github.com/me/clusterq/pkg/model"
)

type testEnv struct {
	url   string
	loop  *scheduler.Loop
	hosts *hosts.Registry
	queue *actionqueue.Queue
}

// startTestServer starts a server with an in-memory SQLite store.
func startTestServer(t *testing.T) *testEnv {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := actionqueue.New(srvLogger, nil)
	machine := lifecycle.New(srvLogger)
	reg := hosts.NewRegistry(q, hosts.DefaultConfig(), srvLogger)
	loop := scheduler.NewLoop(machine, q, reg, st, scheduler.DefaultConfig(), srvLogger)
	srv := server.New(config.DefaultServerConfig(), st, loop, q, reg, machine, srvLogger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{url: ts.URL, loop: loop, hosts: reg, queue: q}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testSpec = `tasks:
  - host: node-1
    kind: INSTALL
    target: HDFS
  - host: node-2
    kind: EXECUTE
    target: smoke
    params:
      script: echo ok
`

func TestHostsCommands(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()
	env.hosts.Register(ctx, model.HostRegistration{Name: "node-1", Address: "10.0.0.1", Labels: map[string]string{"rack": "a"}})
	env.hosts.Register(ctx, model.HostRegistration{Name: "node-2"})

	out, err := runCLI(t, "--server", env.url, "hosts", "list")
	if err != nil {
		t.Fatalf("hosts list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "node-1") || !strings.Contains(out, "node-2") || !strings.Contains(out, "healthy") {
		t.Errorf("hosts list output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "hosts", "show", "node-1")
	if err != nil {
		t.Fatalf("hosts show: %v\n%s", err, out)
	}
	for _, want := range []string{"Host: node-1", "10.0.0.1", "rack=a"} {
		if !strings.Contains(out, want) {
			t.Errorf("hosts show output missing %q: %s", want, out)
		}
	}

	out, err = runCLI(t, "--server", env.url, "hosts", "decommission", "node-2")
	if err != nil {
		t.Fatalf("hosts decommission: %v\n%s", err, out)
	}
	if !strings.Contains(out, "node-2 decommissioned") {
		t.Errorf("decommission output = %s", out)
	}
	if h, _ := env.hosts.Get("node-2"); h.State != model.HostStateDecommissioned {
		t.Errorf("state = %s, want decommissioned", h.State)
	}
}

func TestHostsShow_NotFound(t *testing.T) {
	env := startTestServer(t)
	_, err := runCLI(t, "--server", env.url, "hosts", "show", "ghost")
	if err == nil {
		t.Fatal("expected error for unknown host")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestQueueCommands(t *testing.T) {
	env := startTestServer(t)

	out, err := runCLI(t, "--server", env.url, "queue", "enqueue", "node-1",
		"--kind", "execute", "--target", "smoke", "--job", "job_x", "--param", "script=echo hi")
	if err != nil {
		t.Fatalf("enqueue: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Queued cmd_") {
		t.Errorf("enqueue output = %s", out)
	}

	out, _ = runCLI(t, "--server", env.url, "queue", "enqueue", "node-1",
		"--kind", "EXECUTE", "--target", "smoke", "--job", "job_x")
	if !strings.Contains(out, "not queued") {
		t.Errorf("duplicate enqueue output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "queue", "size", "node-1")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if !strings.Contains(out, "node-1: 1 pending") {
		t.Errorf("size output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "queue", "next", "node-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !strings.Contains(out, "EXECUTE smoke") || !strings.Contains(out, "job_x") {
		t.Errorf("next output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "queue", "next", "node-1")
	if err != nil {
		t.Fatalf("next on empty: %v", err)
	}
	if !strings.Contains(out, "No pending commands") {
		t.Errorf("empty next output = %s", out)
	}
}

func TestQueueEnqueue_BadParam(t *testing.T) {
	env := startTestServer(t)
	_, err := runCLI(t, "--server", env.url, "queue", "enqueue", "node-1", "--kind", "STOP", "--param", "novalue")
	if err == nil || !strings.Contains(err.Error(), "key=value") {
		t.Errorf("err = %v, want key=value error", err)
	}
}

func TestQueueSize_UnknownHost(t *testing.T) {
	env := startTestServer(t)
	if _, err := runCLI(t, "--server", env.url, "queue", "size", "ghost"); err == nil {
		t.Fatal("expected error for unknown host")
	}
}

func TestJobsCommands(t *testing.T) {
	env := startTestServer(t)
	spec := writeSpec(t, testSpec)

	out, err := runCLI(t, "--server", env.url, "jobs", "submit", "-f", spec)
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "submitted (CREATED, 2 tasks)") {
		t.Errorf("submit output = %s", out)
	}
	fields := strings.Fields(out)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "job_") {
		t.Fatalf("could not find job id in %q", out)
	}
	id := fields[1]

	out, err = runCLI(t, "--server", env.url, "jobs", "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"State:     CREATED", "INSTALL HDFS on node-1: PENDING", "EXECUTE smoke on node-2: PENDING"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q: %s", want, out)
		}
	}

	out, err = runCLI(t, "--server", env.url, "jobs", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, id) {
		t.Errorf("list output missing %s: %s", id, out)
	}

	out, err = runCLI(t, "--server", env.url, "jobs", "abort", id, "--reason", "maintenance")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !strings.Contains(out, "ABORTED (maintenance)") {
		t.Errorf("abort output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "jobs", "events", id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "CREATED") || !strings.Contains(out, "ABORTED") || !strings.Contains(out, "maintenance") {
		t.Errorf("events output = %s", out)
	}

	out, err = runCLI(t, "--server", env.url, "jobs", "list", "--state", "COMPLETED")
	if err != nil {
		t.Fatalf("list --state: %v", err)
	}
	if !strings.Contains(out, "No jobs found.") {
		t.Errorf("filtered list output = %s", out)
	}
}

func TestJobsSubmit_InvalidSpec(t *testing.T) {
	env := startTestServer(t)
	spec := writeSpec(t, "tasks:\n  - kind: REBOOT\n")

	out, err := runCLI(t, "--server", env.url, "jobs", "submit", "-f", spec)
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if !strings.Contains(out, "tasks[0].host") {
		t.Errorf("output missing field details: %s", out)
	}
}

func TestJobsSubmit_MissingFile(t *testing.T) {
	env := startTestServer(t)
	if _, err := runCLI(t, "--server", env.url, "jobs", "submit", "-f", "/nonexistent/job.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadJobSpec(t *testing.T) {
	spec, err := readJobSpec(writeSpec(t, testSpec))
	if err != nil {
		t.Fatalf("readJobSpec: %v", err)
	}
	if len(spec.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(spec.Tasks))
	}
	if spec.Tasks[1].Params["script"] != "echo ok" {
		t.Errorf("params = %v", spec.Tasks[1].Params)
	}
	if spec.Tasks[0].Kind != model.CommandInstall {
		t.Errorf("kind = %s, want INSTALL", spec.Tasks[0].Kind)
	}
}
