/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package fields carries ordered key/value pairs for structured log entries
package fields

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/UnifyEM/diragent/common/interfaces"
)

type Fields struct {
	Fields []Field
}

type Field struct {
	K string
	V any
}

func (f Field) Name() string { return f.K }
func (f Field) Value() any   { return f.V }

func NewField(key string, value any) Field {
	return Field{K: key, V: value}
}

func NewFields(fields ...Field) *Fields {
	return &Fields{Fields: fields}
}

func (f *Fields) Append(fields ...Field) {
	f.Fields = append(f.Fields, fields...)
}

func (f *Fields) AppendKV(key string, value any) {
	f.Fields = append(f.Fields, Field{K: key, V: value})
}

// AppendMapString appends in key order so output is stable
func (f *Fields) AppendMapString(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		f.Fields = append(f.Fields, Field{K: k, V: m[k]})
	}
}

// ToText renders key=value pairs separated by spaces. Values containing
// whitespace, quotes or '=' are quoted.
func (f *Fields) ToText() string {
	if f == nil || len(f.Fields) == 0 {
		return ""
	}

	var b strings.Builder
	for i, field := range f.Fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(field.K)
		b.WriteByte('=')
		b.WriteString(render(field.V))
	}
	return b.String()
}

func render(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case error:
		s = t.Error()
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// Get returns the value of the first field with the given key
func (f *Fields) Get(key string) (any, bool) {
	if f == nil {
		return nil, false
	}
	for _, field := range f.Fields {
		if field.K == key {
			return field.V, true
		}
	}
	return nil, false
}

// ToMap converts the fields to a map, later keys win
func (f *Fields) ToMap() map[string]any {
	m := make(map[string]any)
	if f == nil {
		return m
	}
	for _, field := range f.Fields {
		m[field.K] = field.V
	}
	return m
}

func (f *Fields) ToPairs() []interfaces.NVPair {
	if f == nil {
		return nil
	}
	pairs := make([]interfaces.NVPair, len(f.Fields))
	for i, field := range f.Fields {
		pairs[i] = field
	}
	return pairs
}
