/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

// All broker API responses include the Status and Code fields.

// APIGenericResponse is used for responses that don't carry data
type APIGenericResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// APIJobSubmitRequest is posted by an operator to create a job
type APIJobSubmitRequest struct {
	AgentID       string     `json:"agent_id"`
	ModuleName    string     `json:"module_name"`
	Parameters    Parameters `json:"parameters"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

type APIJobResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
	Job     *Job   `json:"job,omitempty"`
}

type APIJobListResponse struct {
	Status string `json:"status"`
	Code   int    `json:"code"`
	Jobs   []Job  `json:"jobs"`
}

type APIAgentListResponse struct {
	Status string    `json:"status"`
	Code   int       `json:"code"`
	Data   AgentList `json:"data"`
}
