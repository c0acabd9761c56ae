/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ErrBodyTooLarge is returned by ReadBody when the limit is exceeded
var ErrBodyTooLarge = errors.New("request body too large")

// PathParam returns a variable from the route pattern, or ""
func PathParam(req *http.Request, name string) string {
	return mux.Vars(req)[name]
}

// QueryInt parses a non-negative integer query parameter. A missing
// parameter yields def.
func QueryInt(req *http.Request, name string, def int) (int, error) {
	v := req.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// ReadBody reads at most limit bytes of the request body
func ReadBody(req *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
