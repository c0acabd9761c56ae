/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package params

import (
	"fmt"
	"strconv"
	"strings"
)

// bounded reports whether the element carries a numeric range. A range of
// 0..0 means the key is not numeric.
func (e Element) bounded() bool {
	return e.Max > e.Min
}

// normalize converts a value from a config file or caller into its stored
// string form. Lists become comma-separated.
func normalize(value any) Value {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return Value(strings.TrimSpace(v))
	case []string:
		return Value(strings.Join(v, ","))
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return Value(strings.Join(parts, ","))
	default:
		return Value(fmt.Sprintf("%v", v))
	}
}

// enforce returns the effective value of an element. An empty value takes the
// default. A bounded element whose value is not an integer in range also
// takes the default.
func enforce(e Element) Value {
	if e.Value == "" {
		return e.Default
	}
	if !e.bounded() {
		return e.Value
	}

	i, err := strconv.Atoi(string(e.Value))
	if err != nil || i < e.Min || i > e.Max {
		return e.Default
	}
	return e.Value
}
