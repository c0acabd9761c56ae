/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/UnifyEM/diragent/common/fields"
)

var internalError = []byte(`{"status":"error","code":500,"details":"internal error"}` + "\n")

// JWrapper adapts a JHandler to http.Handler. The value is encoded before
// any header is written so an encoding failure or a panic still produces a
// well-formed 500.
func (s *HServer) JWrapper(name string, h JHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		code, body := s.run(name, h, req)
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(code)
		_, _ = w.Write(body)
	})
}

func (s *HServer) run(name string, h JHandler, req *http.Request) (code int, body []byte) {
	logFields := func(err string) *fields.Fields {
		return fields.NewFields(
			fields.NewField("error", err),
			fields.NewField("src_ip", RemoteIP(req)),
			fields.NewField("method", req.Method),
			fields.NewField("uri", req.URL.Path),
			fields.NewField("handler", name))
	}

	defer func() {
		if v := recover(); v != nil {
			f := logFields(fmt.Sprint(v))
			if s.Debug {
				f.Append(fields.NewField("stack", string(debug.Stack())))
			}
			s.Logger.Error(s.SEid+13, "handler panicked", f)
			code, body = http.StatusInternalServerError, internalError
		}
	}()

	resp := h(req)
	data, err := json.Marshal(resp.JSONData)
	if err != nil {
		s.Logger.Error(s.SEid+11, "error encoding response", logFields(err.Error()))
		return http.StatusInternalServerError, internalError
	}
	if resp.HTTPCode == 0 {
		resp.HTTPCode = http.StatusOK
	}
	return resp.HTTPCode, append(data, '\n')
}
