/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Dump renders the effective configuration as YAML. Non-empty values of the
// redact keys are masked.
func (c *UConfig) Dump(redact ...string) (string, error) {
	hide := make(map[string]bool, len(redact))
	for _, key := range redact {
		hide[key] = true
	}

	doc := make(map[string]map[string]string, len(c.Sets))
	for set, p := range c.Sets {
		values := p.GetMap()
		for key, value := range values {
			if hide[key] && value != "" {
				values[key] = redacted
			}
		}
		doc[set] = values
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return "", fmt.Errorf("could not encode to YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
