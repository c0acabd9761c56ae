//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

// Package service runs a long-lived process either from the console, where
// SIGINT and SIGTERM stop it, or under the Windows service control manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/service/privcheck"
)

// RunFunc does the work of the service until ctx is canceled
type RunFunc func(ctx context.Context, logger interfaces.Logger) error

type Service struct {
	logger         interfaces.Logger
	ServiceName    string
	ServiceVersion string
	ServiceBuild   int
	TaskTicker     time.Duration
	RequireAdmin   bool
	RunFuncs       []RunFunc
	TasksFunc      func(interfaces.Logger)
	StopFunc       func(interfaces.Logger)
	SEid           uint32
}

// New returns a default Service
//
//goland:noinspection GoUnusedExportedFunction
func New(options ...func(*Service) error) (*Service, error) {
	s := &Service{
		ServiceName:    "diragent",
		ServiceVersion: "unknown",
		TaskTicker:     60 * time.Second,
		SEid:           8500,
	}

	for _, op := range options {
		err := op(s)
		if err != nil {
			return nil, err
		}
	}

	if s.TaskTicker <= 0 {
		return nil, errors.New("task ticker must be positive")
	}
	return s, nil
}

// Start runs the service until it is stopped. The implementation is
// OS-specific.
func (s *Service) Start() error {
	if s.logger == nil {
		return errors.New("refusing to start service with nil logger")
	}

	if s.RequireAdmin {
		admin, err := privcheck.Check()
		if err != nil {
			s.logger.Errorf(s.SEid+4, "fatal error checking for admin privileges: %s", err.Error())
			return fmt.Errorf("fatal error checking for admin privileges: %w", err)
		}
		if !admin {
			s.logger.Error(s.SEid+5, "service must be run with admin privileges", nil)
			return errors.New("service must be run with admin privileges")
		}
	}
	return s.start()
}

// Run executes the service loop until ctx is canceled or a RunFunc fails.
// The OS-specific start wraps it with signal or SCM handling.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.logger.Infof(s.SEid+1, "%s %s (build %d) service started", s.ServiceName, s.ServiceVersion, s.ServiceBuild)
	s.logger.Debugf(s.SEid+1, "Debug logging enabled")

	var wg sync.WaitGroup
	for _, f := range s.RunFuncs {
		wg.Add(1)
		go func(f RunFunc) {
			defer wg.Done()
			if err := f(ctx, s.logger); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Errorf(s.SEid+6, "%s component failed: %s", s.ServiceName, err.Error())
				cancel(err)
			}
		}(f)
	}

	ticker := time.NewTicker(s.TaskTicker)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			if s.TasksFunc != nil {
				s.TasksFunc(s.logger)
			}
		case <-ctx.Done():
			break loop
		}
	}

	s.logger.Infof(s.SEid+2, "%s %s (build %d) service stopping", s.ServiceName, s.ServiceVersion, s.ServiceBuild)
	if s.StopFunc != nil {
		s.StopFunc(s.logger)
	}
	wg.Wait()
	s.logger.Infof(s.SEid+3, "%s %s (build %d) service stopped", s.ServiceName, s.ServiceVersion, s.ServiceBuild)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

//goland:noinspection GoUnusedExportedFunction
func WithServiceName(name string) func(*Service) error {
	return func(s *Service) error {
		s.ServiceName = name
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithServiceVersion(version string) func(*Service) error {
	return func(s *Service) error {
		s.ServiceVersion = version
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithServiceBuild(build int) func(*Service) error {
	return func(s *Service) error {
		s.ServiceBuild = build
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithLogger(logger interfaces.Logger) func(*Service) error {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithTaskTicker(ticker time.Duration) func(*Service) error {
	return func(s *Service) error {
		s.TaskTicker = ticker
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithRequireAdmin(require bool) func(*Service) error {
	return func(s *Service) error {
		s.RequireAdmin = require
		return nil
	}
}

// WithRunFunc adds a component that runs for the life of the service
//
//goland:noinspection GoUnusedExportedFunction
func WithRunFunc(f RunFunc) func(*Service) error {
	return func(s *Service) error {
		s.RunFuncs = append(s.RunFuncs, f)
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithTasksFunc(f func(interfaces.Logger)) func(*Service) error {
	return func(s *Service) error {
		s.TasksFunc = f
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithStopFunc(f func(interfaces.Logger)) func(*Service) error {
	return func(s *Service) error {
		s.StopFunc = f
		return nil
	}
}

//goland:noinspection GoUnusedExportedFunction
func WithSEid(seid uint32) func(*Service) error {
	return func(s *Service) error {
		s.SEid = seid
		return nil
	}
}
