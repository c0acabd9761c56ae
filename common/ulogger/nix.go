//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

// Code for operating systems other than windows
//go:build !windows

package ulogger

const lineEnding = "\n"

// osInit is a no-op outside windows, which has no event log
func (u *Logger) osInit() {}
