//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build windows

package install

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

func (i *Installer) targetPath() string {
	return filepath.Join(i.root, os.Getenv("ProgramFiles"), i.name, i.name+".exe")
}

func (i *Installer) installService() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("error getting executable path: %w", err)
	}

	target := i.targetPath()
	if err = os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	if exePath != target {
		if err = copyFile(exePath, target, 0755); err != nil {
			return fmt.Errorf("error copying %s to %s: %w", exePath, target, err)
		}
	}
	i.printf("Binary copied to %s\n", target)

	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("error connecting to service manager: %w", err)
	}
	defer func(m *mgr.Mgr) {
		_ = m.Disconnect()
	}(m)

	if s, err := m.OpenService(i.name); err == nil {
		_ = s.Close()
		return fmt.Errorf("service %s already exists", i.name)
	}

	s, err := m.CreateService(i.name, target, mgr.Config{
		DisplayName: i.description,
		Description: i.description,
		StartType:   mgr.StartAutomatic,
		ServiceType: windows.SERVICE_WIN32_OWN_PROCESS,
	}, i.args...)
	if err != nil {
		return fmt.Errorf("error creating service: %w", err)
	}
	defer func(s *mgr.Service) {
		_ = s.Close()
	}(s)
	i.printf("Windows service %s created\n", i.name)

	// Restart after 10s, 10s, then 60s; the failure count resets daily
	err = s.SetRecoveryActions([]mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 10 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 10 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 60 * time.Second},
	}, 86400)
	if err != nil {
		return fmt.Errorf("could not set failure actions: %w", err)
	}

	if err = s.Start(); err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}
	i.printf("Windows service %s started\n", i.name)
	return nil
}

func (i *Installer) uninstallService() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("error connecting to service manager: %w", err)
	}
	defer func(m *mgr.Mgr) {
		_ = m.Disconnect()
	}(m)

	s, err := m.OpenService(i.name)
	if err != nil {
		return fmt.Errorf("error opening service: %w", err)
	}
	defer func(s *mgr.Service) {
		_ = s.Close()
	}(s)

	status, err := s.Query()
	if err == nil && status.State == svc.Running {
		if _, err = s.Control(svc.Stop); err != nil {
			return fmt.Errorf("error stopping service: %w", err)
		}
		i.printf("Service stopped\n")
	}

	if err = s.Delete(); err != nil {
		return fmt.Errorf("error deleting service: %w", err)
	}
	i.printf("Windows service %s removed\n", i.name)

	target := i.targetPath()
	if err = deleteFile(target); err != nil {
		i.printf("Unable to delete %s: %v\n", target, err)
	}
	return nil
}

// deleteFile retries for a while; the binary stays locked briefly after the
// service is removed
func deleteFile(path string) error {
	var err error
	for range 20 {
		if err = os.Remove(path); err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(time.Second)
	}
	return err
}
