//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build windows

package privcheck

import (
	"golang.org/x/sys/windows"
)

// Check reports whether the process token is elevated
func Check() (bool, error) {
	// The pseudo token needs no close
	return windows.GetCurrentProcessToken().IsElevated(), nil
}
