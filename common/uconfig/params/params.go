/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package params implements a key/value set with defaults and numeric range
// constraints. Values are stored as strings and converted on read.
package params

import (
	"encoding/json"
	"fmt"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// Ensure Params implements the Parameters interface
var _ interfaces.Parameters = (*Params)(nil)

type Element struct {
	Value   Value `json:"value"`
	Default Value `json:"default"`
	Min     int   `json:"min"`
	Max     int   `json:"max"`
}

type Params struct {
	Data map[string]Element
}

func New() *Params {
	return &Params{Data: make(map[string]Element)}
}

// Clear drops every value and keeps defaults and ranges
func (p *Params) Clear() {
	for key, element := range p.Data {
		element.Value = ""
		p.Data[key] = element
	}
}

func (p *Params) element(key string) Element {
	if p.Data == nil {
		p.Data = make(map[string]Element)
	}
	return p.Data[key]
}

// Set stores a value. Constraints are applied on read, so a value set before
// its constraint is still checked.
func (p *Params) Set(key string, value any) {
	element := p.element(key)
	element.Value = normalize(value)
	p.Data[key] = element
}

// SetConstraint sets the default and, when max > min, the inclusive range
// for an integer key
func (p *Params) SetConstraint(key string, min, max int, def any) {
	element := p.element(key)
	element.Default = normalize(def)
	element.Min = min
	element.Max = max
	p.Data[key] = element
}

// SetMap sets multiple key/value pairs
func (p *Params) SetMap(data map[string]any) {
	for key, value := range data {
		p.Set(key, value)
	}
}

// Get returns the effective value for a key. Unknown keys return "".
func (p *Params) Get(key string) interfaces.ParameterValue {
	element, ok := p.Data[key]
	if !ok {
		return NewValue()
	}
	return enforce(element)
}

// GetMap returns the effective value of every key
func (p *Params) GetMap() map[string]string {
	r := make(map[string]string, len(p.Data))
	for key, element := range p.Data {
		r[key] = enforce(element).String()
	}
	return r
}

// Dump returns the raw elements, including defaults and ranges, as JSON
func (p *Params) Dump() (string, error) {
	data, err := json.MarshalIndent(p.Data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialization error: %w", err)
	}
	return string(data), nil
}
