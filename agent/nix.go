//go:build !windows

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"fmt"
	"os"
)

// launch starts the service directly when no arguments are given
func launch() (int, bool) {
	if len(os.Args) > 1 {
		return console(), false
	}
	if err := startService(modeServe); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		return 1, false
	}
	return 0, false
}
