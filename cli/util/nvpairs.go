//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package util

import (
	"fmt"
	"strings"

	"github.com/UnifyEM/diragent/common/schema"
)

type NVPairs struct {
	Pairs map[string]string
}

// NewNVPairs parses a list of strings for key=value pairs and returns them in a map.
// Arguments without "=" are ignored.
func NewNVPairs(args []string) *NVPairs {
	r := NVPairs{
		Pairs: make(map[string]string),
	}

	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			r.Pairs[parts[0]] = parts[1]
		}
	}

	return &r
}

// ToMap is a helper function to convert NVPairs to a map[string]string
func (p *NVPairs) ToMap() map[string]string {
	return p.Pairs
}

// ParseParameters converts name=value arguments to action parameters.
// Unlike NewNVPairs it rejects malformed arguments and names that differ
// only by case.
func ParseParameters(args []string) (schema.Parameters, error) {
	params := schema.Parameters{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parameter %q is not in name=value form", arg)
		}
		params[strings.TrimSpace(name)] = value
	}
	if err := params.CheckUnique(); err != nil {
		return nil, err
	}
	return params, nil
}
