//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/userver"
	"github.com/UnifyEM/diragent/server/db"
	"github.com/UnifyEM/diragent/server/hub"
)

// maxRequestBytes bounds a job submission body
const maxRequestBytes = 1 << 20

// postJob creates a job for an agent
func (a *API) postJob(req *http.Request) userver.JResponse {
	remoteIP := userver.RemoteIP(req)
	authDetails := GetAuthDetails(req)

	logFields := fields.NewFields(
		fields.NewField("src_ip", remoteIP),
		fields.NewField("id", authDetails.ID))

	body, err := userver.ReadBody(req, maxRequestBytes)
	if errors.Is(err, userver.ErrBodyTooLarge) {
		a.logger.Warning(EventBadRequest, "request body too large", logFields)
		return errorResponse(http.StatusRequestEntityTooLarge, err.Error())
	}
	if err != nil {
		logFields.Append(fields.NewField("error", err.Error()))
		a.logger.Warning(EventBadRequest, "error reading request body", logFields)
		return errorResponse(http.StatusBadRequest, "error reading request body")
	}

	var submit schema.APIJobSubmitRequest
	if err = json.Unmarshal(body, &submit); err != nil {
		logFields.Append(fields.NewField("error", err.Error()))
		a.logger.Warning(EventBadRequest, "invalid job request", logFields)
		return errorResponse(http.StatusBadRequest, "invalid JSON")
	}

	logFields.Append(
		fields.NewField("agent_id", submit.AgentID),
		fields.NewField("module", submit.ModuleName),
		fields.NewField("correlation_id", submit.CorrelationID))

	job, err := a.hub.Submit(submit, authDetails.ID)
	if err != nil {
		return a.failure(err, "job rejected", logFields)
	}

	logFields.Append(fields.NewField("job_id", job.JobID))
	a.logger.Info(EventJobSubmitted, "job submitted", logFields)

	return userver.JResponse{
		HTTPCode: http.StatusCreated,
		JSONData: schema.APIJobResponse{
			Status: schema.APIStatusOK,
			Code:   http.StatusCreated,
			Job:    &job,
		},
	}
}

// getJobs lists jobs, optionally filtered by agent_id and state
func (a *API) getJobs(req *http.Request) userver.JResponse {
	remoteIP := userver.RemoteIP(req)
	authDetails := GetAuthDetails(req)
	q := req.URL.Query()
	var err error

	logFields := fields.NewFields(
		fields.NewField("src_ip", remoteIP),
		fields.NewField("id", authDetails.ID))

	filter := db.JobFilter{
		AgentID: q.Get("agent_id"),
		State:   schema.JobState(q.Get("state")),
	}
	if filter.State != "" && !filter.State.Valid() {
		a.logger.Info(EventBadRequest, "invalid state filter", logFields)
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid state %q", filter.State))
	}
	if filter.Limit, err = userver.QueryInt(req, "limit", 0); err != nil {
		a.logger.Info(EventBadRequest, "invalid limit", logFields)
		return errorResponse(http.StatusBadRequest, err.Error())
	}

	jobs, err := a.store.ListJobs(filter)
	if err != nil {
		return a.failure(err, "error listing jobs", logFields)
	}
	if jobs == nil {
		jobs = []schema.Job{}
	}

	logFields.Append(fields.NewField("count", len(jobs)))
	a.logger.Debug(EventJobRead, "jobs listed", logFields)

	return userver.JResponse{
		HTTPCode: http.StatusOK,
		JSONData: schema.APIJobListResponse{
			Status: schema.APIStatusOK,
			Code:   http.StatusOK,
			Jobs:   jobs,
		},
	}
}

// getJob returns one job including its result once finished
func (a *API) getJob(req *http.Request) userver.JResponse {
	jobID := userver.PathParam(req, "id")
	logFields := fields.NewFields(
		fields.NewField("src_ip", userver.RemoteIP(req)),
		fields.NewField("id", GetAuthDetails(req).ID),
		fields.NewField("job_id", jobID))

	job, err := a.store.GetJob(jobID)
	if err != nil {
		return a.failure(err, "error reading job", logFields)
	}

	a.logger.Debug(EventJobRead, "job read", logFields)
	return userver.JResponse{
		HTTPCode: http.StatusOK,
		JSONData: schema.APIJobResponse{
			Status: schema.APIStatusOK,
			Code:   http.StatusOK,
			Job:    &job,
		},
	}
}

// postCancel fails an unfinished job
func (a *API) postCancel(req *http.Request) userver.JResponse {
	jobID := userver.PathParam(req, "id")
	authDetails := GetAuthDetails(req)
	logFields := fields.NewFields(
		fields.NewField("src_ip", userver.RemoteIP(req)),
		fields.NewField("id", authDetails.ID),
		fields.NewField("job_id", jobID))

	job, err := a.hub.Cancel(jobID, authDetails.ID)
	if err != nil {
		return a.failure(err, "cancel rejected", logFields)
	}

	a.logger.Info(EventJobCanceled, "job canceled", logFields)
	return userver.JResponse{
		HTTPCode: http.StatusOK,
		JSONData: schema.APIJobResponse{
			Status: schema.APIStatusOK,
			Code:   http.StatusOK,
			Job:    &job,
		},
	}
}

// failure maps hub and store errors to HTTP responses
func (a *API) failure(err error, msg string, logFields *fields.Fields) userver.JResponse {
	logFields.Append(fields.NewField("error", err.Error()))

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrInvalidJob):
		code = http.StatusBadRequest
	case errors.Is(err, hub.ErrUnknownAgent), errors.Is(err, db.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, hub.ErrJobFinished):
		code = http.StatusConflict
	}

	if code == http.StatusInternalServerError {
		a.logger.Error(EventStoreError, msg, logFields)
		return errorResponse(code, "internal error")
	}
	a.logger.Info(EventJobRejected, msg, logFields)
	return errorResponse(code, err.Error())
}

func errorResponse(code int, details string) userver.JResponse {
	return userver.JResponse{
		HTTPCode: code,
		JSONData: schema.APIGenericResponse{
			Status:  schema.APIStatusError,
			Code:    code,
			Details: details,
		},
	}
}
