//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

// Package null provides loggers for tests and one-shot commands: one that
// drops everything and one that records entries for assertions.
package null

import (
	"github.com/UnifyEM/diragent/common/interfaces"
)

type discard struct{}

var _ interfaces.LogCloser = discard{}

// Logger returns a logger that drops every entry
func Logger() interfaces.LogCloser {
	return discard{}
}

func (discard) Debug(uint32, string, interfaces.Fields)   {}
func (discard) Info(uint32, string, interfaces.Fields)    {}
func (discard) Warning(uint32, string, interfaces.Fields) {}
func (discard) Error(uint32, string, interfaces.Fields)   {}
func (discard) Fatal(uint32, string, interfaces.Fields)   {}
func (discard) Debugf(uint32, string, ...any)             {}
func (discard) Infof(uint32, string, ...any)              {}
func (discard) Warningf(uint32, string, ...any)           {}
func (discard) Errorf(uint32, string, ...any)             {}
func (discard) Fatalf(uint32, string, ...any)             {}
func (discard) Close()                                    {}
