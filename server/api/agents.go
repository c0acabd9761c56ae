//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package api

import (
	"net/http"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/userver"
)

// getAgents lists every agent that has connected, with its connection state
func (a *API) getAgents(req *http.Request) userver.JResponse {
	logFields := fields.NewFields(
		fields.NewField("src_ip", userver.RemoteIP(req)),
		fields.NewField("id", GetAuthDetails(req).ID))

	agents, err := a.store.ListAgents()
	if err != nil {
		return a.failure(err, "error listing agents", logFields)
	}

	logFields.Append(fields.NewField("count", len(agents.Agents)))
	a.logger.Debug(EventAgentsRead, "agents listed", logFields)

	return userver.JResponse{
		HTTPCode: http.StatusOK,
		JSONData: schema.APIAgentListResponse{
			Status: schema.APIStatusOK,
			Code:   http.StatusOK,
			Data:   agents,
		},
	}
}
