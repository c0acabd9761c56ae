/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// WithLoad reads an existing file
func WithLoad(filename string) func(*UConfig) error {
	return func(c *UConfig) error {
		return c.Load(filename)
	}
}

// WithLoadOrCreate reads the file, or creates it with the current (empty)
// configuration when it does not exist
func WithLoadOrCreate(filename string) func(*UConfig) error {
	return func(c *UConfig) error {
		if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
			return create(c, filename)
		}
		return c.Load(filename)
	}
}

// WithFindOrCreate loads the first file that exists. If none do, the first
// location that can be written is created.
func WithFindOrCreate(filenames []string) func(*UConfig) error {
	return func(c *UConfig) error {
		if len(filenames) == 0 {
			return errors.New("no configuration file locations")
		}
		for _, filename := range filenames {
			if _, err := os.Stat(filename); err == nil {
				return c.Load(filename)
			}
		}

		var failed []string
		for _, filename := range filenames {
			err := create(c, filename)
			if err == nil {
				return nil
			}
			failed = append(failed, err.Error())
		}
		return errors.New("could not create a configuration file: " + strings.Join(failed, "; "))
	}
}

// WithWindowsRegistry keeps the configuration under HKLM\SOFTWARE\key. On
// other systems loading fails.
func WithWindowsRegistry(key string) func(*UConfig) error {
	return func(c *UConfig) error {
		if key == "" {
			return errors.New("registry key is required")
		}
		c.registryKey = key
		return c.Load("")
	}
}

func create(c *UConfig, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return err
	}
	return c.Save(filename)
}
