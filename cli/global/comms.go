/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"context"

	"github.com/UnifyEM/diragent/cli/util"
)

// Comms is the HTTP client used by every command. Get, GetQuery, and Post
// use a background context; Do accepts one.
type Comms interface {
	SetToken(token string)
	Get(endpoint string) (int, []byte, error)
	GetQuery(endpoint string, pairs *util.NVPairs) (int, []byte, error)
	Post(endpoint string, payload any) (int, []byte, error)
	Do(ctx context.Context, method, endpoint string, payload any) (int, []byte, error)
}
