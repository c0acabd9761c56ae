/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// encode renders every set in the format chosen by the file extension
func (c *UConfig) encode() ([]byte, error) {
	var buf bytes.Buffer
	if isYAML(c.file) {
		doc := make(map[string]map[string]string, len(c.Sets))
		for set, p := range c.Sets {
			doc[set] = p.GetMap()
		}
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("could not encode to YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("could not encode to JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// saveFile replaces the file through a temporary file in the same
// directory, so readers and the watcher never see a partial document
func (c *UConfig) saveFile() error {
	data, err := c.encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.file), "."+filepath.Base(c.file)+".*")
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("could not write %s: %w", c.file, err)
	}

	setOwnerPermissions(tmp.Name())
	if err = os.Rename(tmp.Name(), c.file); err != nil {
		return fmt.Errorf("could not replace %s: %w", c.file, err)
	}
	return nil
}

// setOwnerPermissions restricts the file to its owner and, when running as
// root, hands it to root. Failures are not fatal.
func setOwnerPermissions(filename string) {
	_ = os.Chmod(filename, 0600)
	if os.Geteuid() == 0 {
		_ = os.Chown(filename, 0, 0)
	}
}
