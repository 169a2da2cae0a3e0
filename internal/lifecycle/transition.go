package lifecycle

import (
	"fmt"
	"time"

	"github.com/me/clusterq/pkg/model"
)

// transition computes the job that results from applying ev to job. It never
// mutates job. changed is false for accepted no-ops: InProgress
// re-affirmation and identical re-delivery of a terminal event.
func transition(job model.Job, ev model.JobEvent, now time.Time) (next model.Job, changed bool, err error) {
	if job.State.IsTerminal() {
		return job, false, terminalRedelivery(job, ev)
	}

	if !job.State.CanApply(ev.Type()) {
		return job, false, &model.IllegalTransitionError{JobID: job.ID, State: job.State, Event: ev.Type()}
	}

	next = job
	next.UpdatedAt = now

	switch e := ev.(type) {
	case model.Created:
		// CanApply never admits Created; jobs are only created by Machine.create.
		return job, false, &model.IllegalTransitionError{JobID: job.ID, State: job.State, Event: ev.Type()}
	case model.Scheduled:
		next.State = model.JobStateScheduled
	case model.InProgress:
		if job.State == model.JobStateInProgress {
			return next, false, nil
		}
		next.State = model.JobStateInProgress
	case model.Completed:
		if job.CompletionTime != nil && e.CompletionTime.Before(*job.CompletionTime) {
			return job, false, completionRegression(job, e)
		}
		ct := e.CompletionTime
		report := e.Report
		next.State = model.JobStateCompleted
		next.CompletionTime = &ct
		next.Report = &report
	case model.Failed:
		next.State = model.JobStateFailed
		next.Reason = e.Reason
	case model.Aborted:
		next.State = model.JobStateAborted
		next.Reason = e.Reason
	default:
		return job, false, fmt.Errorf("job %s: unsupported event %T", job.ID, ev)
	}
	return next, true, nil
}

// terminalRedelivery returns nil if ev repeats the job's terminal outcome
// with an equal payload, and the rejection error otherwise.
func terminalRedelivery(job model.Job, ev model.JobEvent) error {
	switch e := ev.(type) {
	case model.Completed:
		if job.State == model.JobStateCompleted && job.CompletionTime != nil {
			if e.CompletionTime.Before(*job.CompletionTime) {
				return completionRegression(job, e)
			}
			if e.CompletionTime.Equal(*job.CompletionTime) && reportOf(job) == e.Report {
				return nil
			}
		}
	case model.Failed:
		if job.State == model.JobStateFailed && job.Reason == e.Reason {
			return nil
		}
	case model.Aborted:
		if job.State == model.JobStateAborted && job.Reason == e.Reason {
			return nil
		}
	}
	return &model.AlreadyTerminalError{JobID: job.ID, State: job.State, Event: ev.Type()}
}

func completionRegression(job model.Job, e model.Completed) error {
	return &model.IllegalTransitionError{
		JobID: job.ID,
		State: job.State,
		Event: e.Type(),
		Detail: fmt.Sprintf("completion time %s precedes recorded %s",
			e.CompletionTime.Format(time.RFC3339Nano), job.CompletionTime.Format(time.RFC3339Nano)),
	}
}

func reportOf(job model.Job) model.JobReport {
	if job.Report == nil {
		return model.JobReport{}
	}
	return *job.Report
}
