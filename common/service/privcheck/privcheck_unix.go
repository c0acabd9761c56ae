//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build !windows

package privcheck

import (
	"os"
)

// Check reports whether the process runs as root
func Check() (bool, error) {
	return os.Geteuid() == 0, nil
}
