/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

// ErrorList carries structured errors in a job result
type ErrorList []ErrorItem

type ErrorItem struct {
	Code    string `json:"code" cbor:"1,keyasint"`
	Message string `json:"message" cbor:"2,keyasint"`
	Details string `json:"details,omitempty" cbor:"3,keyasint,omitempty"`
}

//goland:noinspection GoUnusedExportedFunction
func NewErrorList() ErrorList {
	return ErrorList{}
}

func (e ErrorList) Append(err ErrorItem) ErrorList {
	return append(e, err)
}

func (e ErrorList) AppendMessage(code, msg string) ErrorList {
	return append(e, ErrorItem{Code: code, Message: msg})
}

// AppendInfo converts a response error into a list item
func (e ErrorList) AppendInfo(info *ErrorInfo) ErrorList {
	if info == nil {
		return e
	}
	return append(e, ErrorItem{Code: info.Code, Message: info.Message, Details: info.Details})
}

// First returns the first error code or ""
func (e ErrorList) First() string {
	if len(e) == 0 {
		return ""
	}
	return e[0].Code
}
