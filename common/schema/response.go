/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

import "time"

// Status is the outcome of a request
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// Response echoes the RequestId and carries exactly one of Payload or Error
type Response struct {
	RequestID  string     `json:"RequestId"`
	Status     Status     `json:"Status"`
	DurationMs int64      `json:"DurationMs"`
	Payload    any        `json:"Payload,omitempty"`
	Error      *ErrorInfo `json:"Error,omitempty"`
}

// ErrorInfo describes a failure
type ErrorInfo struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
	Details string `json:"Details,omitempty"`
}

// NewSuccess returns a successful Response
func NewSuccess(requestID string, payload any, duration time.Duration) Response {
	return Response{
		RequestID:  requestID,
		Status:     StatusSuccess,
		DurationMs: duration.Milliseconds(),
		Payload:    payload,
	}
}

// NewFailure returns a failed Response
func NewFailure(requestID, code, message string, duration time.Duration) Response {
	return Response{
		RequestID:  requestID,
		Status:     StatusFailed,
		DurationMs: duration.Milliseconds(),
		Error:      &ErrorInfo{Code: code, Message: message},
	}
}

// WithDetails returns a copy of a failed response with details attached
func (r Response) WithDetails(details string) Response {
	if r.Error != nil {
		e := *r.Error
		e.Details = details
		r.Error = &e
	}
	return r
}

// ErrorCode returns the error code or "" for a successful response
func (r Response) ErrorCode() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}
