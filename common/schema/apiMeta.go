//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package schema

import "net/url"

// Agent host endpoint
const EndpointExecute = "/api/v1/execute"

// Broker endpoints. The {id} forms are route patterns.
const (
	EndpointAgentSocket = "/api/v1/agents/ws"
	EndpointAgents      = "/api/v1/agents"
	EndpointJobs        = "/api/v1/jobs"
	EndpointJob         = EndpointJobs + "/{id}"
	EndpointJobCancel   = EndpointJob + "/cancel"
	EndpointMetrics     = "/metrics"
)

// JobPath returns the URL path of one job
func JobPath(id string) string {
	return EndpointJobs + "/" + url.PathEscape(id)
}

// JobCancelPath returns the URL path that cancels one job
func JobCancelPath(id string) string {
	return JobPath(id) + "/cancel"
}

// Broker response status values
const (
	APIStatusOK      = "ok"
	APIStatusError   = "error"
	APIStatusExpired = "expired"
)

// TokenPurposeAccess marks operator access tokens
const TokenPurposeAccess = "access"
