/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package uconfig persists named parameter sets in a JSON or YAML file, or in
// the Windows registry.
package uconfig

import (
	"errors"

	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/uconfig/params"
)

// Ensure UConfig implements the Config interface
var _ interfaces.Config = (*UConfig)(nil)

// UConfig holds all configuration data
type UConfig struct {
	registryKey string // HKLM\SOFTWARE subkey, Windows only
	file        string
	Sets        map[string]*params.Params `json:"sets"`
}

// New returns an empty configuration after applying the options
func New(options ...func(*UConfig) error) (interfaces.Config, error) {
	c := &UConfig{Sets: make(map[string]*params.Params)}

	// Process options (see options.go)
	for _, op := range options {
		if err := op(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// reset clears loaded values but keeps the sets and their constraints
func (c *UConfig) reset() {
	for _, p := range c.Sets {
		p.Clear()
	}
}

// Save the configuration to the specified file or the registry
func (c *UConfig) Save(filename string) error {
	if c.registryKey != "" {
		return c.saveRegistry()
	}
	if filename != "" {
		c.file = filename
	}
	if c.file == "" {
		return errors.New("a filename is required")
	}
	return c.saveFile()
}

// Load the configuration from the specified file or the registry
func (c *UConfig) Load(filename string) error {
	if c.registryKey != "" {
		return c.loadRegistry()
	}
	if filename != "" {
		c.file = filename
	}
	if c.file == "" {
		return errors.New("a filename is required")
	}
	return c.loadFile()
}

// Checkpoint saves the configuration to where it was loaded from
func (c *UConfig) Checkpoint() error {
	if c.registryKey == "" && c.file == "" {
		return errors.New("checkpoint requires a loaded configuration")
	}
	return c.Save("")
}

// File returns the path of the configuration file, empty when the
// registry is used
func (c *UConfig) File() string {
	if c.registryKey != "" {
		return ""
	}
	return c.file
}

// GetSet returns the named set or nil
func (c *UConfig) GetSet(set string) interfaces.Parameters {
	if p, ok := c.Sets[set]; ok {
		return p
	}
	return nil
}

// NewSet returns the named set, creating it if needed
func (c *UConfig) NewSet(key string) interfaces.Parameters {
	p, ok := c.Sets[key]
	if !ok {
		p = params.New()
		c.Sets[key] = p
	}
	return p
}
