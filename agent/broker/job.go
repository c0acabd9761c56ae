/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package broker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/UnifyEM/diragent/agent/metrics"
	"github.com/UnifyEM/diragent/agent/rows"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
)

// errJobCanceled is the cancel cause set by a cancel_job message
var errJobCanceled = errors.New("job canceled by broker")

// dispatch registers a job and starts it. The job is acknowledged with a
// progress update before it waits for a slot.
func (w *Worker) dispatch(ctx context.Context, env schema.Envelope) {
	if env.JobID == "" {
		w.logger.Warning(EventBadMessage, "dispatch_job without job_id", nil)
		return
	}

	var d schema.DispatchJob
	if err := env.Decode(&d); err != nil || d.ModuleName == "" {
		msg := "module_name is required"
		if err != nil {
			msg = err.Error()
		}
		job := schema.NewJob(env.JobID, w.settings().AgentID, d.ModuleName, d.Parameters, d.RequestedBy, d.CorrelationID, w.clock.Now())
		w.finish(&job, schema.NewFailure(env.JobID, schema.CodeMalformedRequest, msg, 0))
		return
	}

	job := schema.NewJob(env.JobID, w.settings().AgentID, d.ModuleName, d.Parameters, d.RequestedBy, d.CorrelationID, w.clock.Now())
	jobCtx, cancel := context.WithCancelCause(ctx)

	w.mu.Lock()
	if _, exists := w.jobs[job.JobID]; exists {
		w.mu.Unlock()
		cancel(nil)
		w.logger.Warning(EventDuplicateJob, "job is already running, dispatch ignored", fields.NewFields(
			fields.NewField("job_id", job.JobID)))
		return
	}
	w.jobs[job.JobID] = cancel
	w.mu.Unlock()

	w.logger.Info(EventDispatch, "job received", fields.NewFields(
		fields.NewField("job_id", job.JobID),
		fields.NewField("module", job.ModuleName),
		fields.NewField("requested_by", job.RequestedBy),
		fields.NewField("correlation_id", job.CorrelationID)))
	w.progress(&job, 0, "received")

	w.jobsWG.Add(1)
	go func() {
		defer w.jobsWG.Done()
		defer func() {
			w.mu.Lock()
			delete(w.jobs, job.JobID)
			w.mu.Unlock()
			cancel(nil)
		}()
		w.run(jobCtx, &job)
	}()
}

// run waits for a slot, executes the job and reports the result
func (w *Worker) run(ctx context.Context, job *schema.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(EventJobFailed, "job panicked", fields.NewFields(
				fields.NewField("job_id", job.JobID),
				fields.NewField("panic", fmt.Sprint(r)),
				fields.NewField("stack", string(debug.Stack()))))
			w.finish(job, schema.NewFailure(job.JobID, schema.CodeInternalError, "internal error", 0))
		}
	}()

	if err := w.slots.Acquire(ctx, 1); err != nil {
		w.finish(job, w.canceled(ctx, job))
		return
	}
	defer w.slots.Release(1)

	if err := job.Transition(schema.JobRunning, w.clock.Now()); err != nil {
		w.finish(job, schema.NewFailure(job.JobID, schema.CodeInternalError, err.Error(), 0))
		return
	}
	w.progress(job, 0, "running")

	// The broker connection is already mutually authenticated, so the
	// synthesized request skips the network gates but still carries fresh
	// replay fields like any other request
	req := schema.Request{
		RequestID:            job.JobID,
		ActionName:           job.ModuleName,
		Parameters:           job.Parameters,
		TimestampUnixSeconds: w.clock.Now().Unix(),
		Nonce:                uuid.NewString(),
		CorrelationID:        job.CorrelationID,
	}

	resp := w.dispatcher.Execute(ctx, req, w.settings())
	if errors.Is(context.Cause(ctx), errJobCanceled) {
		resp = w.canceled(ctx, job)
	}
	w.finish(job, resp)
}

// canceled builds the failure for a job that ended before it completed
func (w *Worker) canceled(ctx context.Context, job *schema.Job) schema.Response {
	msg := "agent is shutting down"
	if cause := context.Cause(ctx); errors.Is(cause, errJobCanceled) {
		msg = cause.Error()
	}
	return schema.NewFailure(job.JobID, schema.CodeCanceled, msg, 0)
}

// finish moves the job to its terminal state, queues the single result
// message and records the single audit entry
func (w *Worker) finish(job *schema.Job, resp schema.Response) {
	now := w.clock.Now()
	result := schema.JobResult{Items: []schema.Row{}, Errors: schema.ErrorList{}}

	state := schema.JobFailed
	if resp.Status == schema.StatusSuccess {
		items, err := rows.Flatten(resp.Payload)
		if err != nil {
			resp = schema.NewFailure(job.JobID, schema.CodeActionFailed,
				fmt.Sprintf("result could not be converted to rows: %v", err), 0)
		} else {
			state = schema.JobCompleted
			result.Items = items
		}
	}
	if state == schema.JobFailed {
		result.Errors = result.Errors.AppendInfo(resp.Error)
	}

	if err := job.Transition(state, now); err != nil {
		// A job that never started may only fail
		_ = job.Transition(schema.JobFailed, now)
		state = schema.JobFailed
		resp = schema.NewFailure(job.JobID, schema.CodeInternalError, err.Error(), 0)
		result = schema.JobResult{Items: []schema.Row{}, Errors: schema.ErrorList{}.AppendInfo(resp.Error)}
	}

	submit := schema.SubmitResult{
		State:       job.State,
		CompletedAt: now.UTC(),
		DurationMs:  job.DurationMs,
		Result:      result,
	}
	if job.StartedAt != nil {
		submit.StartedAt = *job.StartedAt
	}

	env, err := schema.NewEnvelope(schema.MsgSubmitResult, job.JobID, submit)
	if err != nil {
		// Row values that do not marshal are reported instead of the rows
		submit.State = schema.JobFailed
		submit.Result = schema.JobResult{Items: []schema.Row{},
			Errors: schema.ErrorList{}.AppendMessage(schema.CodeActionFailed, err.Error())}
		env, _ = schema.NewEnvelope(schema.MsgSubmitResult, job.JobID, submit)
		resp = schema.NewFailure(job.JobID, schema.CodeActionFailed, err.Error(), 0)
		state = schema.JobFailed
	}
	w.send(env)

	code := resp.ErrorCode()
	f := fields.NewFields(
		fields.NewField("job_id", job.JobID),
		fields.NewField("module", job.ModuleName),
		fields.NewField("state", string(state)),
		fields.NewField("rows", len(result.Items)),
		fields.NewField("duration_ms", job.DurationMs))
	if code != "" {
		f.Append(fields.NewField("error_code", code))
		w.logger.Info(EventJobFailed, "job failed", f)
	} else {
		w.logger.Info(EventJobDone, "job completed", f)
	}

	duration := now.Sub(job.CreatedAt)
	w.audit.Record(audit.Entry{
		Time:          job.CreatedAt,
		Transport:     audit.TransportBroker,
		RequestID:     job.JobID,
		CorrelationID: job.CorrelationID,
		Action:        job.ModuleName,
		Subject:       job.RequestedBy,
		DurationMs:    duration.Milliseconds(),
		Status:        string(resp.Status),
		ErrorCode:     code,
	})
	w.metrics.RecordRequest(metrics.TransportBroker, 0, code, duration)
	w.metrics.RecordJob(string(state))
}

// progress sends a liveness update for the job
func (w *Worker) progress(job *schema.Job, percent int, message string) {
	job.Progress = percent
	job.Message = message
	env, err := schema.NewEnvelope(schema.MsgProgressUpdate, job.JobID, schema.ProgressUpdate{
		State:   job.State,
		Percent: percent,
		Message: message,
	})
	if err == nil {
		w.send(env)
	}
}

// cancelJob cancels a running or queued job. Unknown ids are ignored since
// the job may already have finished.
func (w *Worker) cancelJob(env schema.Envelope) {
	var c schema.CancelJob
	_ = env.Decode(&c)

	w.mu.Lock()
	cancel, ok := w.jobs[env.JobID]
	w.mu.Unlock()

	f := fields.NewFields(
		fields.NewField("job_id", env.JobID),
		fields.NewField("reason", c.Reason))
	if !ok {
		w.logger.Debug(EventCancel, "cancel for unknown job ignored", f)
		return
	}
	w.logger.Info(EventCancel, "job canceled", f)
	cancel(errJobCanceled)
}
