/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/UnifyEM/diragent/common/fields"
)

type authDetailsKey struct{}

// AuthDetailsFrom returns the value the AuthFunc attached to the request
func AuthDetailsFrom(ctx context.Context) any {
	return ctx.Value(authDetailsKey{})
}

// ResponseWriterWrapper records the status code written by a handler
type ResponseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *ResponseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Wrapper adds authentication, the configured headers, the handler
// deadline, and one access log entry per request
func (s *HServer) Wrapper(handlerName string, h http.Handler, authFunc AuthFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		src := RemoteIP(req)

		if authFunc != nil {
			ok, failMsg, details := authFunc(src, req.Header.Get("Authorization"))
			if !ok {
				s.Logger.Warning(s.SEid+12, "authentication failure", fields.NewFields(
					fields.NewField("src_ip", src),
					fields.NewField("method", req.Method),
					fields.NewField("uri", req.URL.Path),
					fields.NewField("handler", handlerName)))

				s.PenaltyBox(req.Context())
				w.WriteHeader(http.StatusUnauthorized)
				if failMsg != nil {
					_, _ = w.Write(failMsg)
				}
				return
			}
			req = req.WithContext(context.WithValue(req.Context(), authDetailsKey{}, details))
		}

		for _, header := range s.Headers {
			w.Header().Set(header.Key, header.Value)
		}

		ctx, cancel := context.WithTimeout(req.Context(), time.Duration(s.HandlerTimeout)*time.Second)
		defer cancel()
		req = req.WithContext(ctx)

		rw := &ResponseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		h.ServeHTTP(rw, req)

		// The path only, query strings may carry secrets
		logFields := fields.NewFields(
			fields.NewField("code", rw.statusCode),
			fields.NewField("src_ip", src),
			fields.NewField("method", req.Method),
			fields.NewField("uri", req.URL.Path),
			fields.NewField("handler", handlerName),
			fields.NewField("duration", time.Since(start).Round(100*time.Microsecond).Seconds()))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logFields.Append(fields.NewField("timeout", true))
		}
		s.Logger.Info(s.SEid+10, "HTTP", logFields)
	})
}
