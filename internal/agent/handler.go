package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/me/clusterq/pkg/model"
)

// maxOutput caps the stdout and stderr reported per command.
const maxOutput = 64 << 10

// Result is the outcome of handling one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error // set when the command could not be run at all
}

// Failed reports whether the result should be reported as FAILED.
func (r Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Handler carries out commands delivered to this host.
type Handler interface {
	Handle(ctx context.Context, cmd model.Command) Result
}

// CommandRunner abstracts process execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// osCommandRunner is the real implementation using os/exec.
type osCommandRunner struct{}

func (osCommandRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	switch e := runErr.(type) {
	case nil:
		return stdout, stderr, 0, nil
	case *exec.ExitError:
		return stdout, stderr, e.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}

// ShellHandler runs the "script" parameter of a command through a shell.
// EXECUTE commands require a script; other kinds run one when given and
// succeed immediately otherwise.
type ShellHandler struct {
	shell   string
	workDir string
	runner  CommandRunner
}

// NewShellHandler creates a ShellHandler that runs scripts with
// `<shell> -c` in workDir.
func NewShellHandler(shell, workDir string) *ShellHandler {
	return &ShellHandler{shell: shell, workDir: workDir, runner: osCommandRunner{}}
}

func newShellHandlerWithRunner(shell string, runner CommandRunner) *ShellHandler {
	return &ShellHandler{shell: shell, runner: runner}
}

// Handle implements Handler.
func (h *ShellHandler) Handle(ctx context.Context, cmd model.Command) Result {
	script := cmd.Params["script"]
	if script == "" {
		if cmd.Kind == model.CommandExecute {
			return Result{ExitCode: -1, Err: fmt.Errorf("%s %s: missing script parameter", cmd.Kind, cmd.Target)}
		}
		return Result{}
	}

	stdout, stderr, code, err := h.runner.Run(ctx, h.workDir, h.shell, "-c", script)
	res := Result{ExitCode: code, Stdout: truncate(stdout), Stderr: truncate(stderr)}
	if err != nil {
		res.Err = fmt.Errorf("run %s: %w", h.shell, err)
	}
	return res
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "\n[truncated]"
}
