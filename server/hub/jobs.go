/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/server/db"
)

var errWrongAgent = errors.New("job belongs to another agent")

// Submit validates and stores a job, then dispatches it when the agent is
// connected. Otherwise it waits until the agent connects.
func (h *Hub) Submit(req schema.APIJobSubmitRequest, requestedBy string) (schema.Job, error) {
	agentID := strings.TrimSpace(req.AgentID)
	module := strings.TrimSpace(req.ModuleName)

	if agentID == "" {
		return schema.Job{}, fmt.Errorf("%w: agent_id is required", ErrInvalidJob)
	}
	if module == "" {
		return schema.Job{}, fmt.Errorf("%w: module_name is required", ErrInvalidJob)
	}
	if err := req.Parameters.CheckUnique(); err != nil {
		return schema.Job{}, fmt.Errorf("%w: %s", ErrInvalidJob, err.Error())
	}

	if _, err := h.store.GetAgentMeta(agentID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return schema.Job{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		return schema.Job{}, err
	}

	job := schema.NewJob(uuid.NewString(), agentID, module, req.Parameters.Clone(),
		requestedBy, req.CorrelationID, h.clock.Now())
	if err := h.store.CreateJob(job); err != nil {
		return schema.Job{}, err
	}

	h.metrics.job(string(schema.JobCreated))
	h.logger.Info(EventSubmitted, "job submitted", jobFields(job))

	h.dispatch(job)
	return job, nil
}

// Cancel fails a job that has not finished. The agent is told to abandon
// it when connected; a result it sends later is ignored.
func (h *Hub) Cancel(jobID, requestedBy string) (schema.Job, error) {
	now := h.clock.Now()
	reason := "canceled by " + requestedBy

	result := schema.JobResult{
		Items:  []schema.Row{},
		Errors: schema.NewErrorList().AppendMessage(schema.CodeCanceled, reason),
	}
	job, err := h.store.FinishJob(jobID, func(j *schema.Job) error {
		if j.State.Terminal() {
			return ErrJobFinished
		}
		j.Message = reason
		return j.Transition(schema.JobFailed, now)
	}, result)
	if err != nil {
		return job, err
	}

	env, err := schema.NewEnvelope(schema.MsgCancelJob, job.JobID, schema.CancelJob{Reason: reason})
	sent := false
	if err == nil {
		sent = h.send(job.AgentID, env)
	}

	h.metrics.job(string(schema.JobFailed))
	f := jobFields(job)
	f.Append(fields.NewField("requested_by", requestedBy), fields.NewField("agent_notified", sent))
	h.logger.Info(EventCanceled, "job canceled", f)
	return job, nil
}

// dispatch sends a Created job to its agent if connected
func (h *Hub) dispatch(job schema.Job) bool {
	env, err := schema.NewEnvelope(schema.MsgDispatchJob, job.JobID, schema.DispatchJob{
		ModuleName:    job.ModuleName,
		Parameters:    job.Parameters,
		RequestedBy:   job.RequestedBy,
		CorrelationID: job.CorrelationID,
	})
	if err != nil {
		h.logger.Error(EventDispatched, "unable to encode job", jobFields(job, fields.NewField("error", err.Error())))
		return false
	}

	if !h.send(job.AgentID, env) {
		return false
	}
	h.logger.Info(EventDispatched, "job dispatched", jobFields(job))
	return true
}

// dispatchPending sends every job still waiting for the agent
func (h *Hub) dispatchPending(agentID string) {
	jobs, err := h.store.PendingJobs(agentID)
	if err != nil {
		h.logger.Error(EventStore, "unable to read pending jobs", fields.NewFields(
			fields.NewField("agent_id", agentID),
			fields.NewField("error", err.Error())))
		return
	}
	for _, job := range jobs {
		if !h.dispatch(job) {
			return
		}
	}
}

// progress records a progress update. The first update in the Running
// state moves the job out of Created.
func (h *Hub) progress(c *agentConn, env schema.Envelope) {
	var p schema.ProgressUpdate
	if err := env.Decode(&p); err != nil {
		h.logger.Warning(EventBadMessage, "bad progress update",
			connFields(c, fields.NewField("job_id", env.JobID), fields.NewField("error", err.Error())))
		return
	}

	now := h.clock.Now()
	started := false
	job, err := h.store.UpdateJob(env.JobID, func(j *schema.Job) error {
		if j.AgentID != c.agentID {
			return errWrongAgent
		}
		if j.State.Terminal() {
			return ErrJobFinished
		}
		if p.State == schema.JobRunning && j.State == schema.JobCreated {
			if err := j.Transition(schema.JobRunning, now); err != nil {
				return err
			}
			started = true
		}
		j.Progress = min(max(p.Percent, 0), 100)
		j.Message = p.Message
		return nil
	})
	if err != nil {
		h.storeFailure(c, env, "progress update", err)
		return
	}

	if started {
		h.metrics.job(string(schema.JobRunning))
	}
	h.logger.Debug(EventProgress, "job progress", jobFields(job,
		fields.NewField("percent", job.Progress),
		fields.NewField("message", job.Message)))
}

// result stores the terminal result of a job
func (h *Hub) result(c *agentConn, env schema.Envelope) {
	var s schema.SubmitResult
	if err := env.Decode(&s); err != nil {
		h.logger.Warning(EventBadMessage, "bad job result",
			connFields(c, fields.NewField("job_id", env.JobID), fields.NewField("error", err.Error())))
		return
	}
	if !s.State.Terminal() {
		h.logger.Warning(EventBadMessage, "job result without a terminal state",
			connFields(c, fields.NewField("job_id", env.JobID), fields.NewField("state", string(s.State))))
		return
	}
	if s.Result.Items == nil {
		s.Result.Items = []schema.Row{}
	}

	now := h.clock.Now()
	job, err := h.store.FinishJob(env.JobID, func(j *schema.Job) error {
		if j.AgentID != c.agentID {
			return errWrongAgent
		}
		if j.State.Terminal() {
			return ErrJobFinished
		}

		// A job can finish before its running update arrived
		if s.State == schema.JobCompleted && j.State == schema.JobCreated {
			start := s.StartedAt
			if start.IsZero() {
				start = now
			}
			if err := j.Transition(schema.JobRunning, start); err != nil {
				return err
			}
		}

		end := s.CompletedAt
		if end.IsZero() {
			end = now
		}
		if err := j.Transition(s.State, end); err != nil {
			return err
		}

		// The agent measured the job itself
		if !s.StartedAt.IsZero() {
			started := s.StartedAt.UTC()
			j.StartedAt = &started
		}
		if s.DurationMs > 0 {
			j.DurationMs = s.DurationMs
		}
		if code := s.Result.Errors.First(); code != "" {
			j.Message = code
		}
		return nil
	}, s.Result)
	if err != nil {
		h.storeFailure(c, env, "job result", err)
		return
	}

	h.metrics.job(string(job.State))
	h.logger.Info(EventFinished, "job finished", jobFields(job,
		fields.NewField("rows", len(s.Result.Items)),
		fields.NewField("error_code", s.Result.Errors.First()),
		fields.NewField("duration_ms", job.DurationMs)))
}

// storeFailure logs a rejected update. Messages for finished, unknown, or
// foreign jobs are expected after cancels and reconnects.
func (h *Hub) storeFailure(c *agentConn, env schema.Envelope, what string, err error) {
	f := connFields(c,
		fields.NewField("job_id", env.JobID),
		fields.NewField("message", what),
		fields.NewField("error", err.Error()))

	var invalid schema.ErrInvalidTransition
	switch {
	case errors.Is(err, ErrJobFinished), errors.Is(err, db.ErrNotFound):
		h.logger.Debug(EventStaleResult, "ignoring update for a finished or unknown job", f)
	case errors.Is(err, errWrongAgent), errors.As(err, &invalid):
		h.logger.Warning(EventStaleResult, "rejected job update", f)
	default:
		h.logger.Error(EventStore, "unable to store job update", f)
	}
}

func jobFields(job schema.Job, extra ...fields.Field) *fields.Fields {
	f := fields.NewFields(
		fields.NewField("job_id", job.JobID),
		fields.NewField("agent_id", job.AgentID),
		fields.NewField("module", job.ModuleName),
		fields.NewField("state", string(job.State)),
		fields.NewField("requested_by", job.RequestedBy))
	f.Append(extra...)
	return f
}
