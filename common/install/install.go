/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package install registers the running executable as a system service:
// a systemd unit on Linux and a service control manager entry on Windows.
package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/UnifyEM/diragent/common"
)

// Runner executes an external command such as systemctl
type Runner func(name string, args ...string) error

type Installer struct {
	name        string
	description string
	args        []string
	root        string
	run         Runner
	out         io.Writer
}

func New(options ...func(*Installer) error) (*Installer, error) {
	i := &Installer{
		run: runCommand,
		out: os.Stdout,
	}
	for _, option := range options {
		if err := option(i); err != nil {
			return nil, err
		}
	}
	if i.name == "" {
		return nil, errors.New("service name is required")
	}
	if strings.ContainsAny(i.name, `/\ `) {
		return nil, fmt.Errorf("invalid service name %q", i.name)
	}
	if i.description == "" {
		i.description = i.name
	}
	return i, nil
}

func WithName(name string) func(*Installer) error {
	return func(i *Installer) error {
		i.name = name
		return nil
	}
}

func WithDescription(description string) func(*Installer) error {
	return func(i *Installer) error {
		i.description = description
		return nil
	}
}

// WithArgs sets the arguments the service manager passes to the binary
func WithArgs(args ...string) func(*Installer) error {
	return func(i *Installer) error {
		i.args = args
		return nil
	}
}

// WithRoot prefixes every path written or removed, for staging and tests
func WithRoot(root string) func(*Installer) error {
	return func(i *Installer) error {
		i.root = root
		return nil
	}
}

func WithRunner(run Runner) func(*Installer) error {
	return func(i *Installer) error {
		if run == nil {
			return errors.New("runner is nil")
		}
		i.run = run
		return nil
	}
}

func WithOutput(w io.Writer) func(*Installer) error {
	return func(i *Installer) error {
		if w == nil {
			w = io.Discard
		}
		i.out = w
		return nil
	}
}

// Install copies the executable into place, registers the service and starts it
func (i *Installer) Install() error {
	return i.installService()
}

// Uninstall stops and removes the service and its binary. Configuration and
// data files are left in place.
func (i *Installer) Uninstall() error {
	return i.uninstallService()
}

// Upgrade replaces an installed service with the running executable
func (i *Installer) Upgrade() error {
	_, _ = fmt.Fprintln(i.out, "Removing existing service...")
	if err := i.uninstallService(); err != nil {
		return fmt.Errorf("could not remove existing service: %w", err)
	}
	_, _ = fmt.Fprintln(i.out, "Installing new service...")
	return i.installService()
}

func (i *Installer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(i.out, format, args...)
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		if msg := common.SingleLine(string(out)); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func(in *os.File) {
		_ = in.Close()
	}(in)

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func(out *os.File) {
		_ = out.Close()
	}(out)

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
