//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build linux

package install

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

const (
	binaryPath  = "/usr/local/bin"
	servicePath = "/etc/systemd/system"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
After=network-online.target
Wants=network-online.target
StartLimitIntervalSec=0

[Service]
Type=simple
WorkingDirectory=/tmp
User=root
Group=root
Restart=always
RestartSec=5
ExecStart={{.ExecStart}}

[Install]
WantedBy=multi-user.target
`))

// Unit renders the systemd unit file
func (i *Installer) Unit() (string, error) {
	exec := []string{filepath.Join(binaryPath, i.name)}
	for _, a := range i.args {
		exec = append(exec, quoteArg(a))
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		Description string
		ExecStart   string
	}{
		Description: strings.ReplaceAll(i.description, "\n", " "),
		ExecStart:   strings.Join(exec, " "),
	})
	return buf.String(), err
}

func (i *Installer) installService() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not find executable path: %w", err)
	}

	unitDir := filepath.Join(i.root, servicePath)
	if _, err = os.Stat(unitDir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s does not exist, is this a systemd host?", unitDir)
	}

	target := filepath.Join(i.root, binaryPath, i.name)
	if exePath != target {
		if err = os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err = copyFile(exePath, target, 0700); err != nil {
			return fmt.Errorf("error copying %s to %s: %w", exePath, target, err)
		}
	}
	i.printf("Binary copied to %s\n", target)

	unit, err := i.Unit()
	if err != nil {
		return err
	}
	unitFile := filepath.Join(unitDir, i.name+".service")
	if err = os.WriteFile(unitFile, []byte(unit), 0644); err != nil {
		return fmt.Errorf("could not write service file: %w", err)
	}
	i.printf("Service file created at %s\n", unitFile)

	if err = i.run("systemctl", "daemon-reload"); err != nil {
		return err
	}
	if err = i.run("systemctl", "enable", i.name); err != nil {
		// The unit can still be started by hand
		i.printf("Warning: %v\n", err)
	}
	if err = i.run("systemctl", "start", i.name); err != nil {
		return fmt.Errorf("could not start service: %w", err)
	}
	i.printf("Service %s started\n", i.name)
	return nil
}

func (i *Installer) uninstallService() error {
	unitFile := filepath.Join(i.root, servicePath, i.name+".service")
	if _, err := os.Stat(unitFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("service %s is not installed", i.name)
	}

	// A stopped or disabled unit is not an error here
	_ = i.run("systemctl", "stop", i.name)
	_ = i.run("systemctl", "disable", i.name)

	if err := os.Remove(unitFile); err != nil {
		return fmt.Errorf("could not remove service file: %w", err)
	}
	if err := i.run("systemctl", "daemon-reload"); err != nil {
		return err
	}

	target := filepath.Join(i.root, binaryPath, i.name)
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove binary: %w", err)
	}
	i.printf("Service %s removed\n", i.name)
	return nil
}

// quoteArg quotes an argument for an ExecStart line when it needs it
func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"'\\") {
		return a
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a) + `"`
}
