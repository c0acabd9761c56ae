//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build windows

package service

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sys/windows/svc"
)

// start runs under the service control manager, or from the console when
// the process is interactive
func (s *Service) start() error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("unable to determine session type: %w", err)
	}

	if !isService {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return s.Run(ctx)
	}

	if err = svc.Run(s.ServiceName, s); err != nil {
		return fmt.Errorf("%s service failed: %w", s.ServiceName, err)
	}
	return nil
}

// Execute implements svc.Handler
//
//goland:noinspection GoUnusedParameter
func (s *Service) Execute(args []string, req <-chan svc.ChangeRequest, status chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	status <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	status <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	for {
		select {
		case c := <-req:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				if err := <-done; err != nil {
					return true, 1
				}
				return false, 0
			default:
			}
		case err := <-done:
			status <- svc.Status{State: svc.StopPending}
			if err != nil {
				return true, 1
			}
			return false, 0
		}
	}
}
