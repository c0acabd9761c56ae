//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package interfaces

import "time"

// Config is a file or registry backed collection of named parameter sets
type Config interface {
	Load(string) error
	Save(string) error
	Checkpoint() error
	File() string
	NewSet(string) Parameters
	GetSet(s string) Parameters
	Dump(redact ...string) (string, error)
}

type Parameters interface {
	Set(key string, value any)
	SetConstraint(key string, min, max int, def any)
	SetMap(data map[string]any)
	Get(key string) ParameterValue
	GetMap() map[string]string
	Dump() (string, error)
}

type ParameterValue interface {
	String() string
	Int() int
	Int64() int64
	Bool() bool
	Duration(unit time.Duration) time.Duration
	SplitList() []string
}
