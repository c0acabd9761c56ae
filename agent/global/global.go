/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package global provides the agent's constants, configuration keys and the
// typed Settings snapshot shared by the host, the registry and the broker worker
package global

import (
	"github.com/UnifyEM/diragent/common"
)

// These constants are used throughout the agent
const (
	Version          = common.Version
	Build            = common.Build
	Name             = "diragent"
	LogName          = "diragent"
	Description      = "Directory Inventory Agent"
	TaskTicker       = 60 // seconds between housekeeping tasks
	ConsoleExitDelay = 10 // seconds to wait so that user can read the console output when exiting
)

// Global values that either can or should not be constants
var (
	UnixConfigFiles    = []string{"/etc/diragent.yaml", "/usr/local/etc/diragent.yaml", "/etc/diragent.conf"}
	WindowsConfigFiles = []string{"C:\\ProgramData\\diragent\\diragent.yaml"}
)
