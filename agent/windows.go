//go:build windows

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows/svc"
)

// launch runs under the service control manager or, from a console, runs
// the cobra commands and asks for a pause so a double-clicked window stays
// readable
func launch() (int, bool) {
	isSvc, err := svc.IsWindowsService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to detect the service control manager: %v\n", err)
		return 1, false
	}
	if !isSvc {
		return console(), true
	}

	// The arguments were recorded at install time
	if err = startService(serviceMode(os.Args[1:])); err != nil {
		return 1, false
	}
	return 0, false
}
