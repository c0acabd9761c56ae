/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// Ensure Value implements the ParameterValue interface
var _ interfaces.ParameterValue = (*Value)(nil)

type Value string

// NewValue returns "" as a ParameterValue
func NewValue() interfaces.ParameterValue {
	return Value("")
}

func (v Value) String() string {
	return string(v)
}

// Int returns 0 when the value is not an integer
func (v Value) Int() int {
	i, err := strconv.Atoi(v.String())
	if err != nil {
		return 0
	}
	return i
}

// Int64 returns 0 when the value is not an integer
func (v Value) Int64() int64 {
	i, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil {
		return 0
	}
	return i
}

// Bool accepts the forms understood by strconv.ParseBool plus yes/no and on/off
func (v Value) Bool() bool {
	switch strings.ToLower(v.String()) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v.String())
	if err != nil {
		return false
	}
	return b
}

// Duration interprets an integer value as a count of unit
func (v Value) Duration(unit time.Duration) time.Duration {
	return time.Duration(v.Int64()) * unit
}

// SplitList converts a comma-separated value to a list, trimming whitespace
// and dropping empty entries
func (v Value) SplitList() []string {
	var list []string
	for _, part := range strings.Split(v.String(), ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
