//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package userver

import (
	"net/http"
)

// HandlerHealth reports 503 once shutdown has begun so load balancers stop
// sending new requests
func (s *HServer) HandlerHealth(_ *http.Request) JResponse {
	if s.draining.Load() {
		return JResponse{
			HTTPCode: http.StatusServiceUnavailable,
			JSONData: Response{Status: "down", Code: http.StatusServiceUnavailable, Details: "server is shutting down"}}
	}
	return JResponse{
		HTTPCode: http.StatusOK,
		JSONData: Response{Status: "ok", Code: http.StatusOK, Details: "health check ok"}}
}

func (s *HServer) Handler404(req *http.Request) JResponse {
	s.PenaltyBox(req.Context())
	return JResponse{
		HTTPCode: http.StatusNotFound,
		JSONData: Response{Details: "object does not exist", Status: "error", Code: http.StatusNotFound}}
}

func (s *HServer) Handler405(req *http.Request) JResponse {
	s.PenaltyBox(req.Context())
	return JResponse{
		HTTPCode: http.StatusMethodNotAllowed,
		JSONData: Response{Details: "method not allowed", Status: "error", Code: http.StatusMethodNotAllowed}}
}
