/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"context"
	"fmt"

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

// Reload re-reads the configuration file and swaps it in only when valid.
// Generated values missing from the file are carried over.
func (c *ServerConfig) Reload() (*Settings, error) {
	file := c.C.File()
	if file == "" {
		return nil, fmt.Errorf("configuration was not loaded from a file")
	}

	fresh, err := uconfig.New(uconfig.WithLoad(file))
	if err != nil {
		return nil, err
	}

	next := &ServerConfig{C: fresh}
	next.SC, next.SP = setDefaults(fresh)
	for _, k := range []string{ConfigDataPath, ConfigDBPath, ConfigLogFile} {
		if next.SC.Get(k).String() == "" {
			next.SC.Set(k, c.SC.Get(k).String())
		}
	}
	if next.SP.Get(ConfigJWTKey).String() == "" {
		next.SP.Set(ConfigJWTKey, c.SP.Get(ConfigJWTKey).String())
	}

	s, err := next.Settings()
	if err != nil {
		return nil, err
	}

	c.C, c.SC, c.SP = next.C, next.SC, next.SP
	return s, nil
}

// Watch reloads the configuration whenever its file changes and hands each
// valid snapshot to apply. Watch blocks until ctx is canceled.
func (c *ServerConfig) Watch(ctx context.Context, logger interfaces.Logger, apply func(*Settings)) error {
	return uconfig.Watch(ctx, c.C.File(),
		func() {
			s, err := c.Reload()
			if err != nil {
				logger.Error(EventConfigInvalid, "configuration reload failed, keeping previous settings",
					fields.NewFields(fields.NewField("error", err.Error())))
				return
			}
			logger.Info(EventConfigReloaded, "configuration reloaded", fields.NewFields(
				fields.NewField("file", c.C.File()),
				fields.NewField("allowed_agents", s.AgentAllowList.Len())))
			apply(s)
		},
		func(err error) {
			logger.Warning(EventConfigWatch, "configuration watch error",
				fields.NewFields(fields.NewField("error", err.Error())))
		})
}
