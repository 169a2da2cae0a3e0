package model

// JobState represents the lifecycle state of a Job.
type JobState string

const (
	JobStateCreated    JobState = "CREATED"
	JobStateScheduled  JobState = "SCHEDULED"
	JobStateInProgress JobState = "IN_PROGRESS"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateFailed     JobState = "FAILED"
	JobStateAborted    JobState = "ABORTED"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateAborted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known job states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateCreated, JobStateScheduled, JobStateInProgress,
		JobStateCompleted, JobStateFailed, JobStateAborted:
		return true
	}
	return false
}

// AllowedFrom lists the source states from which an event of type t may be
// applied. Created has no source state: it only starts a job.
var AllowedFrom = map[JobEventType][]JobState{
	JobEventScheduled:  {JobStateCreated},
	JobEventInProgress: {JobStateScheduled, JobStateInProgress},
	JobEventCompleted:  {JobStateScheduled, JobStateInProgress},
	JobEventFailed:     {JobStateScheduled, JobStateInProgress},
	JobEventAborted:    {JobStateCreated, JobStateScheduled, JobStateInProgress},
}

// CanApply returns true if an event of type t is legal from state s.
func (s JobState) CanApply(t JobEventType) bool {
	for _, allowed := range AllowedFrom[t] {
		if allowed == s {
			return true
		}
	}
	return false
}

// HostState represents the liveness state of a managed host.
type HostState string

const (
	HostStateHealthy        HostState = "healthy"
	HostStateLost           HostState = "lost"
	HostStateDecommissioned HostState = "decommissioned"
)

// String returns the string representation of the host state.
func (s HostState) String() string {
	return string(s)
}
