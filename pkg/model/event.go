package model

import (
	"fmt"
	"time"
)

// JobEventType tags the variant of a JobEvent.
type JobEventType string

const (
	JobEventCreated    JobEventType = "CREATED"
	JobEventScheduled  JobEventType = "SCHEDULED"
	JobEventInProgress JobEventType = "IN_PROGRESS"
	JobEventCompleted  JobEventType = "COMPLETED"
	JobEventFailed     JobEventType = "FAILED"
	JobEventAborted    JobEventType = "ABORTED"
)

// String returns the string representation of the event type.
func (t JobEventType) String() string {
	return string(t)
}

// JobEvent is an immutable fact that may advance a Job's lifecycle. The set
// of implementations is closed: Created, Scheduled, InProgress, Completed,
// Failed and Aborted.
type JobEvent interface {
	JobID() JobID
	Type() JobEventType
	jobEvent()
}

// Created starts a job.
type Created struct {
	Job JobID
}

// Scheduled records that the job's commands were handed to the action queue.
type Scheduled struct {
	Job JobID
}

// InProgress records that an agent started work for the job. It may be
// re-affirmed any number of times.
type InProgress struct {
	Job JobID
}

// Completed records successful completion at CompletionTime.
type Completed struct {
	Job            JobID
	CompletionTime time.Time
	Report         JobReport
}

// Failed records that the job failed.
type Failed struct {
	Job    JobID
	Reason string
}

// Aborted records that the job was given up on, typically by the scheduler.
type Aborted struct {
	Job    JobID
	Reason string
}

func (e Created) JobID() JobID    { return e.Job }
func (e Scheduled) JobID() JobID  { return e.Job }
func (e InProgress) JobID() JobID { return e.Job }
func (e Completed) JobID() JobID  { return e.Job }
func (e Failed) JobID() JobID     { return e.Job }
func (e Aborted) JobID() JobID    { return e.Job }

func (Created) Type() JobEventType    { return JobEventCreated }
func (Scheduled) Type() JobEventType  { return JobEventScheduled }
func (InProgress) Type() JobEventType { return JobEventInProgress }
func (Completed) Type() JobEventType  { return JobEventCompleted }
func (Failed) Type() JobEventType     { return JobEventFailed }
func (Aborted) Type() JobEventType    { return JobEventAborted }

func (Created) jobEvent()    {}
func (Scheduled) jobEvent()  {}
func (InProgress) jobEvent() {}
func (Completed) jobEvent()  {}
func (Failed) jobEvent()     {}
func (Aborted) jobEvent()    {}

// EventMessage is the wire form of a JobEvent used by the API and the
// event history table.
type EventMessage struct {
	Type           JobEventType `json:"type" yaml:"type"`
	JobID          JobID        `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	CompletionTime *time.Time   `json:"completion_time,omitempty" yaml:"completion_time,omitempty"`
	Reason         string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Report         *JobReport   `json:"report,omitempty" yaml:"report,omitempty"`
}

// ToEvent converts the wire form into a JobEvent.
func (m EventMessage) ToEvent() (JobEvent, error) {
	if m.JobID == "" {
		return nil, fmt.Errorf("event %s: missing job_id", m.Type)
	}
	switch m.Type {
	case JobEventCreated:
		return Created{Job: m.JobID}, nil
	case JobEventScheduled:
		return Scheduled{Job: m.JobID}, nil
	case JobEventInProgress:
		return InProgress{Job: m.JobID}, nil
	case JobEventCompleted:
		if m.CompletionTime == nil {
			return nil, fmt.Errorf("event %s: missing completion_time", m.Type)
		}
		ev := Completed{Job: m.JobID, CompletionTime: m.CompletionTime.UTC()}
		if m.Report != nil {
			ev.Report = *m.Report
		}
		return ev, nil
	case JobEventFailed:
		return Failed{Job: m.JobID, Reason: m.Reason}, nil
	case JobEventAborted:
		return Aborted{Job: m.JobID, Reason: m.Reason}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", m.Type)
}

// MessageOf converts a JobEvent into its wire form.
func MessageOf(ev JobEvent) EventMessage {
	m := EventMessage{Type: ev.Type(), JobID: ev.JobID()}
	switch e := ev.(type) {
	case Completed:
		t := e.CompletionTime
		r := e.Report
		m.CompletionTime = &t
		m.Report = &r
	case Failed:
		m.Reason = e.Reason
	case Aborted:
		m.Reason = e.Reason
	}
	return m
}

// EventRecord is one persisted entry of a job's event history.
type EventRecord struct {
	Seq        int64        `json:"seq"`
	Event      EventMessage `json:"event"`
	RecordedAt time.Time    `json:"recorded_at"`
}
