/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

//go:build windows

package uconfig

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/UnifyEM/diragent/common/uconfig/params"
)

// Each set is a subkey of HKLM\SOFTWARE\<key> holding one string value per
// parameter, so administrators can edit settings with regedit or policy.
const regPrefix = `SOFTWARE\`

func (c *UConfig) rootPath() string {
	return regPrefix + c.registryKey
}

func (c *UConfig) saveRegistry() error {
	for set, p := range c.Sets {
		path := c.rootPath() + `\` + set
		k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, path, registry.ALL_ACCESS)
		if err != nil {
			return fmt.Errorf("failed to open registry key %s: %w", path, err)
		}
		for name, value := range p.GetMap() {
			if err = k.SetStringValue(name, value); err != nil {
				_ = k.Close()
				return fmt.Errorf("failed to set %s\\%s: %w", path, name, err)
			}
		}
		_ = k.Close()
	}
	return nil
}

func (c *UConfig) loadRegistry() error {
	c.reset()

	root, err := registry.OpenKey(registry.LOCAL_MACHINE, c.rootPath(), registry.READ)
	if errors.Is(err, registry.ErrNotExist) {
		// First run: create the key with whatever is configured so far
		return c.saveRegistry()
	}
	if err != nil {
		return fmt.Errorf("failed to open registry key %s: %w", c.rootPath(), err)
	}
	defer func(k registry.Key) {
		_ = k.Close()
	}(root)

	sets, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", c.rootPath(), err)
	}
	for _, set := range sets {
		if err = c.loadRegistrySet(root, set); err != nil {
			return err
		}
	}
	return nil
}

func (c *UConfig) loadRegistrySet(root registry.Key, set string) error {
	k, err := registry.OpenKey(root, set, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open %s\\%s: %w", c.rootPath(), set, err)
	}
	defer func(k registry.Key) {
		_ = k.Close()
	}(k)

	names, err := k.ReadValueNames(-1)
	if err != nil {
		return fmt.Errorf("failed to read %s\\%s: %w", c.rootPath(), set, err)
	}

	p, ok := c.Sets[set]
	if !ok {
		p = params.New()
	}
	for _, name := range names {
		value, _, err := k.GetStringValue(name)
		if err != nil {
			// Values of other types are ignored
			continue
		}
		p.Set(name, value)
	}
	c.Sets[set] = p
	return nil
}
