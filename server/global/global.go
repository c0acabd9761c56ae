//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// See LICENSE file for details
//

package global

import "github.com/UnifyEM/diragent/common"

const (
	Version           = common.Version
	Build             = common.Build
	Name              = "dirbroker"
	LogName           = "dirbroker"
	Description       = "Directory Agent Job Broker"
	WindowsBinaryName = "dirbroker.exe"
	UnixBinaryName    = "dirbroker"
	DBFile            = "dirbroker.db"
	TaskTicker        = 60 // seconds between service task checks
	ConsoleExitDelay  = 10 // seconds to wait so that user can read the console output when exiting
	TokenLength       = 64 // Length of the JWT signing key prior to base-64 encoding
)

var (
	UnixConfigFiles         = []string{"/etc/dirbroker.conf", "/usr/local/etc/dirbroker.conf", "/var/root/dirbroker.conf"}
	WindowsConfigFiles      = []string{"C:\\ProgramData\\dirbroker\\dirbroker.conf"}
	UnixDefaultDataPaths    = []string{"/var/lib/dirbroker", "/opt/dirbroker", "/usr/local/dirbroker"}
	WindowsDefaultDataPaths = []string{"C:\\ProgramData\\dirbroker"}
	Debug                   = false
	ListenOverride          = ""
)
