package model

import (
	"fmt"
	"time"
)

// CommandKind identifies what an agent should do with a Command.
type CommandKind string

const (
	CommandExecute     CommandKind = "EXECUTE"
	CommandStatusCheck CommandKind = "STATUS"
	CommandStart       CommandKind = "START"
	CommandStop        CommandKind = "STOP"
	CommandInstall     CommandKind = "INSTALL"
)

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandExecute, CommandStatusCheck, CommandStart, CommandStop, CommandInstall:
		return true
	}
	return false
}

// CommandKey is the equality key of a Command. Two commands for the same
// host with equal keys are duplicates.
type CommandKey struct {
	JobID  JobID
	Kind   CommandKind
	Target string
}

func (k CommandKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.JobID, k.Kind, k.Target)
}

// Command is one unit of work addressed to a specific host's agent. It is
// treated as immutable once created.
type Command struct {
	ID        string            `json:"id"`
	JobID     JobID             `json:"job_id"`
	Host      string            `json:"host"`
	Kind      CommandKind       `json:"kind"`
	Target    string            `json:"target"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Key returns the command's equality key.
func (c Command) Key() CommandKey {
	return CommandKey{JobID: c.JobID, Kind: c.Kind, Target: c.Target}
}

// Equal reports whether c and other are duplicates.
func (c Command) Equal(other Command) bool {
	return c.Key() == other.Key()
}

// CommandStatus is the outcome an agent reports for a command.
type CommandStatus string

const (
	CommandPending CommandStatus = "PENDING"
	CommandRunning CommandStatus = "RUNNING"
	CommandSuccess CommandStatus = "SUCCESS"
	CommandFailed  CommandStatus = "FAILED"
)

// Valid reports whether s is a status an agent may report.
func (s CommandStatus) Valid() bool {
	switch s {
	case CommandRunning, CommandSuccess, CommandFailed:
		return true
	}
	return false
}

// CommandResult is what an agent reports back for a Command.
type CommandResult struct {
	CommandID   string        `json:"command_id"`
	JobID       JobID         `json:"job_id"`
	Host        string        `json:"host,omitempty"`
	Kind        CommandKind   `json:"kind"`
	Target      string        `json:"target"`
	Status      CommandStatus `json:"status"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Key returns the equality key of the command the result refers to.
func (r CommandResult) Key() CommandKey {
	return CommandKey{JobID: r.JobID, Kind: r.Kind, Target: r.Target}
}

// PlannedCommand is a command of a job's plan together with the last result
// reported for it.
type PlannedCommand struct {
	Command
	Status      CommandStatus `json:"status"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
