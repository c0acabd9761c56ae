/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Broker message types. The agent sends connect, progress, and result
// messages; the broker sends dispatch and cancel messages. Either side may
// send ping.
const (
	MsgAgentConnect   = "agent_connect"
	MsgProgressUpdate = "progress_update"
	MsgSubmitResult   = "submit_result"
	MsgDispatchJob    = "dispatch_job"
	MsgCancelJob      = "cancel_job"
	MsgPing           = "ping"
)

// Envelope frames every broker message
type Envelope struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id,omitempty"`
	Sent    time.Time       `json:"sent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope
func NewEnvelope(msgType, jobID string, payload any) (Envelope, error) {
	e := Envelope{Type: msgType, JobID: jobID, Sent: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		e.Payload = data
	}
	return e, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DispatchJob is sent by the broker to start a job
type DispatchJob struct {
	ModuleName    string     `json:"module_name"`
	Parameters    Parameters `json:"parameters"`
	RequestedBy   string     `json:"requested_by"`
	CorrelationID string     `json:"correlation_id"`
}

// CancelJob asks the agent to abandon a job
type CancelJob struct {
	Reason string `json:"reason"`
}

// ProgressUpdate reports liveness and progress of a running job
type ProgressUpdate struct {
	State   JobState `json:"state"`
	Percent int      `json:"percent"`
	Message string   `json:"message"`
}

// SubmitResult is the single terminal message for a job
type SubmitResult struct {
	State       JobState  `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Result      JobResult `json:"result"`
}
