/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Code for windows
//go:build windows

package ulogger

import (
	"golang.org/x/sys/windows/svc/eventlog"
)

const lineEnding = "\r\n"

// windowsEID is the event ID for the custom event log source
// Using other event IDs will create messy log entries unless a DLL with
// messages strings is created and registered with the event log source
const windowsEID = 1

type eventSink struct {
	log *eventlog.Log
}

func (u *Logger) osInit() {
	if !u.logWindowsEvents {
		return
	}

	_ = eventlog.InstallAsEventCreate(u.prefix, eventlog.Info|eventlog.Warning|eventlog.Error)

	l, err := eventlog.Open(u.prefix)
	if err != nil {
		return
	}
	u.osSink = &eventSink{log: l}
}

func (e *eventSink) emit(level string, message string) {
	switch level {
	case "DEBUG", "INFO":
		_ = e.log.Info(windowsEID, message)
	case "WARNING":
		_ = e.log.Warning(windowsEID, message)
	case "ERROR", "FATAL":
		_ = e.log.Error(windowsEID, message)
	}
}

func (e *eventSink) close() {
	_ = e.log.Close()
}
