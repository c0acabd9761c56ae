/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package ulogger

import (
	"errors"
	"io"
	"os"

	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/interfaces"
)

var _ interfaces.LogCloser = (*Logger)(nil)

// Option is a function that configures a Logger
type Option func(*Logger) error

// New creates a new instance of Logger with the provided options
func New(options ...Option) (*Logger, error) {
	u := &Logger{retainDays: 30, stdout: os.Stdout, clock: clock.Real()}

	for _, option := range options {
		if err := option(u); err != nil {
			return nil, err
		}
	}

	if err := u.openFile(); err != nil {
		return nil, err
	}

	// OS-specific sinks such as the windows event log
	u.osInit()
	return u, nil
}

// WithPrefix sets a process name or similar short identifier
func WithPrefix(prefix string) Option {
	return func(u *Logger) error {
		u.prefix = prefix
		return nil
	}
}

// WithLogFile sets the log file
func WithLogFile(logfile string) Option {
	return func(u *Logger) error {
		u.logfile = logfile
		return nil
	}
}

// WithLogStdout enables or disables logging to stdout
func WithLogStdout(logStdout bool) Option {
	return func(u *Logger) error {
		u.logStdout = logStdout
		return nil
	}
}

// WithWriter replaces stdout as the console destination
func WithWriter(w io.Writer) Option {
	return func(u *Logger) error {
		u.stdout = w
		u.logStdout = true
		return nil
	}
}

// WithWindowsEvents enables or disables logging to the windows event log
func WithWindowsEvents(logWindowsEvents bool) Option {
	return func(u *Logger) error {
		u.logWindowsEvents = logWindowsEvents
		return nil
	}
}

// WithDebug enables or disables debug logging
func WithDebug(debug bool) Option {
	return func(u *Logger) error {
		u.debug = debug
		return nil
	}
}

// WithJSON writes one JSON object per line instead of text
func WithJSON(enabled bool) Option {
	return func(u *Logger) error {
		u.json = enabled
		return nil
	}
}

// WithRetention sets the number of days to retain logs
func WithRetention(retainDays int) Option {
	return func(u *Logger) error {
		u.retainDays = retainDays
		return nil
	}
}

// WithCompress gzips rotated files
func WithCompress(enabled bool) Option {
	return func(u *Logger) error {
		u.compress = enabled
		return nil
	}
}

// WithClock replaces the wall clock used for timestamps and rotation
func WithClock(c clock.Clock) Option {
	return func(u *Logger) error {
		if c == nil {
			return errors.New("nil clock")
		}
		u.clock = c
		return nil
	}
}
