/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import "github.com/UnifyEM/diragent/common"

//goland:noinspection GoUnusedConst
const (
	Version         = common.Version
	Build           = common.Build
	Name            = "dactl"
	Description     = "Directory agent CLI"
	LongDescription = "Invoke directory agent actions and manage broker jobs"
	Copyright       = "Copyright (c) 2024-2026 Tenebris Technologies Inc."
)
