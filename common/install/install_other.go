//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build !linux && !windows

package install

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("service installation is not supported on " + runtime.GOOS)

func (i *Installer) installService() error {
	return errUnsupported
}

func (i *Installer) uninstallService() error {
	return errUnsupported
}
