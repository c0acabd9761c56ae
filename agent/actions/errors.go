/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package actions

import (
	"errors"
	"fmt"

	"github.com/UnifyEM/diragent/agent/directory"
	"github.com/UnifyEM/diragent/common/schema"
)

// ActionError is an expected handler failure with an error code. Any other
// error returned by a handler is reported as ActionFailed.
type ActionError struct {
	Code    string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewError returns an ActionError with a formatted message
func NewError(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidParameter returns an ActionError for a rejected parameter
func InvalidParameter(name string, err error) *ActionError {
	return &ActionError{Code: schema.CodeInvalidParameter, Message: "invalid parameter " + name, Err: err}
}

// classify maps a handler error to an error code and message
func classify(err error) (string, string) {
	var ae *ActionError
	switch {
	case errors.As(err, &ae):
		return ae.Code, ae.Error()
	case directory.IsInvalidInput(err):
		return schema.CodeInvalidParameter, err.Error()
	case errors.Is(err, directory.ErrUnavailable):
		return schema.CodeDirectoryUnavailable, err.Error()
	default:
		return schema.CodeActionFailed, err.Error()
	}
}
