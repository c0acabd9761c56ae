//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

// Package privcheck reports whether the process may install services
package privcheck

import "errors"

var ErrNotPrivileged = errors.New("administrator or root privileges are required")

// Require returns ErrNotPrivileged unless Check succeeds and reports true
func Require() error {
	ok, err := Check()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPrivileged
	}
	return nil
}
