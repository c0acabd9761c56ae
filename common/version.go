/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package common

// Version and Build are shared by all binaries in this repository
const (
	Version = "1.2.0"
	Build   = 120
)
