/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates the directory and its parents with owner-only access.
// An existing directory is not an error.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// EnsureSubDir creates dir/sub and returns its path
func EnsureSubDir(dir, sub string) (string, error) {
	path := filepath.Join(dir, sub)
	if err := EnsureDir(path); err != nil {
		return "", err
	}
	return path, nil
}
