/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"context"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/uconfig"
)

// Event ids used by the configuration watcher
const (
	EventConfigReloaded uint32 = 1001
	EventConfigInvalid  uint32 = 1002
	EventConfigWatch    uint32 = 1003
)

// Watch reloads the configuration whenever its file changes and hands each
// valid snapshot to apply. An invalid file leaves the previous snapshot in
// place. Watch blocks until ctx is canceled.
func (c *AgentConfig) Watch(ctx context.Context, logger interfaces.Logger, apply func(*Settings)) error {
	return uconfig.Watch(ctx, c.C.File(),
		func() { c.reload(logger, apply) },
		func(err error) {
			logger.Warning(EventConfigWatch, "configuration watch error",
				fields.NewFields(fields.NewField("error", err.Error())))
		})
}

func (c *AgentConfig) reload(logger interfaces.Logger, apply func(*Settings)) {
	s, err := c.Reload()
	if err != nil {
		logger.Error(EventConfigInvalid, "configuration reload failed, keeping previous settings",
			fields.NewFields(fields.NewField("error", err.Error())))
		return
	}

	logger.Info(EventConfigReloaded, "configuration reloaded",
		fields.NewFields(
			fields.NewField("file", c.C.File()),
			fields.NewField("allowed_clients", s.AllowList.Len())))
	apply(s)
}
