package model

import "time"

// JobID identifies a Job.
type JobID string

// JobReport is the result summary an agent attaches to a completion.
type JobReport struct {
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Stdout   string `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
}

// Job is a unit of orchestrated work tracked through a lifecycle to a
// terminal outcome. Values handed out by the lifecycle machine are copies.
type Job struct {
	ID             JobID      `json:"id"`
	State          JobState   `json:"state"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Report         *JobReport `json:"report,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job reached Completed, Failed or Aborted.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// JobSpec describes the commands a job decomposes into.
type JobSpec struct {
	Tasks []TaskSpec `json:"tasks" yaml:"tasks"`
}

// TaskSpec is one host-addressed command of a JobSpec.
type TaskSpec struct {
	Host   string            `json:"host" yaml:"host"`
	Kind   CommandKind       `json:"kind" yaml:"kind"`
	Target string            `json:"target" yaml:"target"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks the spec for missing fields.
func (s *JobSpec) Validate() []FieldError {
	var errs []FieldError
	if len(s.Tasks) == 0 {
		errs = append(errs, FieldError{Field: "tasks", Message: "at least one task is required"})
	}
	for i, t := range s.Tasks {
		if t.Host == "" {
			errs = append(errs, FieldError{Field: fieldIndex("tasks", i, "host"), Message: "host is required"})
		}
		if !t.Kind.Valid() {
			errs = append(errs, FieldError{Field: fieldIndex("tasks", i, "kind"), Message: "unknown command kind " + string(t.Kind)})
		}
	}
	return errs
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	State  string // Optional state filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
