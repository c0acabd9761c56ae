/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
)

// FoldKey returns the case-folded form of a parameter name. A Caser is
// stateful, so one is created per call.
func FoldKey(key string) string {
	return cases.Fold().String(key)
}

// Request is the signed unit of work accepted by the agent host. The same
// shape is synthesized by the broker worker for each dispatched job.
type Request struct {
	RequestID            string     `json:"RequestId"`
	ActionName           string     `json:"ActionName"`
	Parameters           Parameters `json:"Parameters,omitempty"`
	TimestampUnixSeconds int64      `json:"TimestampUnixSeconds,omitempty"`
	Nonce                string     `json:"Nonce,omitempty"`
	Signature            string     `json:"Signature,omitempty"`
	CorrelationID        string     `json:"CorrelationId,omitempty"`
}

// Parameters is a string map with case-insensitive key lookup
type Parameters map[string]string

// Get returns the value for key, matching the key case-insensitively.
// An exact match is preferred.
func (p Parameters) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	if v, ok := p[key]; ok {
		return v, true
	}
	folded := FoldKey(key)
	for k, v := range p {
		if FoldKey(k) == folded {
			return v, true
		}
	}
	return "", false
}

// Value returns the value for key or "" if absent
func (p Parameters) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Has reports whether key is present, case-insensitively
func (p Parameters) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Keys returns the parameter names ordered case-insensitively, with ties
// broken by ordinal comparison so the order is total and stable
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		fi, fj := FoldKey(keys[i]), FoldKey(keys[j])
		if fi != fj {
			return fi < fj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// CheckUnique returns an error if two keys differ only by case
func (p Parameters) CheckUnique() error {
	seen := make(map[string]string, len(p))
	for k := range p {
		f := FoldKey(k)
		if prev, ok := seen[f]; ok {
			return fmt.Errorf("duplicate parameter: %q and %q", prev, k)
		}
		seen[f] = k
	}
	return nil
}

// Clone returns a copy that can be modified independently
func (p Parameters) Clone() Parameters {
	c := make(Parameters, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
