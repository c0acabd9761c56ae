/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a broker job. Transitions only move
// forward: Created -> Running -> Completed or Failed. A job may also fail
// before it starts, for example when it is canceled while queued.
type JobState string

const (
	JobCreated   JobState = "Created"
	JobRunning   JobState = "Running"
	JobCompleted JobState = "Completed"
	JobFailed    JobState = "Failed"
)

// Terminal reports whether no further transition is possible
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known state
func (s JobState) Valid() bool {
	switch s {
	case JobCreated, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

var allowedTransitions = map[JobState][]JobState{
	JobCreated: {JobRunning, JobFailed},
	JobRunning: {JobCompleted, JobFailed},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to JobState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned by Job.Transition
type ErrInvalidTransition struct {
	From JobState
	To   JobState
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid job state transition %s -> %s", e.From, e.To)
}

// Row is one flattened result record: column name to value
type Row map[string]any

// JobResult is the tabular result of a job. Items is populated on success,
// Errors on failure.
type JobResult struct {
	Items  []Row     `json:"items" cbor:"1,keyasint"`
	Errors ErrorList `json:"errors" cbor:"2,keyasint"`
}

// Job is a unit of work routed through the broker to one agent
type Job struct {
	JobID         string     `json:"job_id" cbor:"1,keyasint"`
	AgentID       string     `json:"agent_id" cbor:"2,keyasint"`
	ModuleName    string     `json:"module_name" cbor:"3,keyasint"`
	Parameters    Parameters `json:"parameters" cbor:"4,keyasint"`
	RequestedBy   string     `json:"requested_by" cbor:"5,keyasint"`
	CorrelationID string     `json:"correlation_id" cbor:"6,keyasint"`
	State         JobState   `json:"state" cbor:"7,keyasint"`
	CreatedAt     time.Time  `json:"created_at" cbor:"8,keyasint"`
	StartedAt     *time.Time `json:"started_at,omitempty" cbor:"9,keyasint,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" cbor:"10,keyasint,omitempty"`
	DurationMs    int64      `json:"duration_ms" cbor:"11,keyasint"`
	Progress      int        `json:"progress" cbor:"12,keyasint"`
	Message       string     `json:"message,omitempty" cbor:"13,keyasint,omitempty"`
	Result        *JobResult `json:"result,omitempty" cbor:"-"`
}

// NewJob returns a job in the Created state
func NewJob(jobID, agentID, module string, params Parameters, requestedBy, correlationID string, now time.Time) Job {
	if params == nil {
		params = Parameters{}
	}
	return Job{
		JobID:         jobID,
		AgentID:       agentID,
		ModuleName:    module,
		Parameters:    params,
		RequestedBy:   requestedBy,
		CorrelationID: correlationID,
		State:         JobCreated,
		CreatedAt:     now.UTC(),
	}
}

// Transition moves the job to a new state and stamps the matching time
func (j *Job) Transition(to JobState, at time.Time) error {
	if !CanTransition(j.State, to) {
		return ErrInvalidTransition{From: j.State, To: to}
	}
	at = at.UTC()
	switch to {
	case JobRunning:
		j.StartedAt = &at
	case JobCompleted, JobFailed:
		j.CompletedAt = &at
		if j.StartedAt != nil {
			j.DurationMs = at.Sub(*j.StartedAt).Milliseconds()
		}
		if to == JobCompleted {
			j.Progress = 100
		}
	}
	j.State = to
	return nil
}
