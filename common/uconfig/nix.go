/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

//go:build !windows

package uconfig

import (
	"errors"
)

// Registry storage exists only on Windows; WithWindowsRegistry is rejected
// elsewhere through these stubs.
var errNoRegistry = errors.New("windows registry storage is not available on this platform")

func (c *UConfig) saveRegistry() error { return errNoRegistry }
func (c *UConfig) loadRegistry() error { return errNoRegistry }
