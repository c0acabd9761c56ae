/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/UnifyEM/diragent/common/uconfig/params"
)

// isYAML reports whether the file is persisted as YAML
func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load configuration from specified file
func (c *UConfig) loadFile() error {
	c.reset()

	data, err := os.ReadFile(c.file)
	if err != nil {
		return fmt.Errorf("error opening file %s: %w", c.file, err)
	}

	if isYAML(c.file) {
		return c.decodeYAML(data)
	}

	if err = json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("deserialization error: %w", err)
	}
	return nil
}

// decodeYAML reads a flat document of the form set -> key -> scalar or list.
// Values pass through Set() so constraints and defaults still apply.
func (c *UConfig) decodeYAML(data []byte) error {
	doc := make(map[string]map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("deserialization error: %w", err)
	}

	for set, values := range doc {
		p, ok := c.Sets[set]
		if !ok {
			p = params.New()
		}
		p.SetMap(values)
		c.Sets[set] = p
	}
	return nil
}
