/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package interfaces

// Logger writes leveled entries tagged with an event id. Each binary owns
// a block of event ids so entries can be filtered without parsing text.
type Logger interface {
	Debug(eid uint32, msg string, f Fields)
	Info(eid uint32, msg string, f Fields)
	Warning(eid uint32, msg string, f Fields)
	Error(eid uint32, msg string, f Fields)
	Fatal(eid uint32, msg string, f Fields)

	Debugf(eid uint32, format string, v ...any)
	Infof(eid uint32, format string, v ...any)
	Warningf(eid uint32, format string, v ...any)
	Errorf(eid uint32, format string, v ...any)
	Fatalf(eid uint32, format string, v ...any)
}

// LogCloser is a Logger holding a file or OS handle
type LogCloser interface {
	Logger
	Close()
}

// Fields keeps loggers independent of the fields package
type Fields interface {
	ToText() string
	ToPairs() []NVPair
}

// NVPair is one structured field
type NVPair interface {
	Name() string
	Value() any
}
