/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"

	"github.com/UnifyEM/diragent/agent/actions"
	"github.com/UnifyEM/diragent/agent/broker"
	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/agent/host"
	"github.com/UnifyEM/diragent/agent/metrics"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/service"
	"github.com/UnifyEM/diragent/common/ulogger"
	"github.com/UnifyEM/diragent/common/userver"
)

type mode int

const (
	modeServe mode = iota
	modeBroker
)

var conf *global.AgentConfig
var logger interfaces.Logger
var current atomic.Pointer[global.Settings]
var agentHost *host.Host
var worker *broker.Worker

// startService wires the components and runs them until the service stops
func startService(m mode) error {
	var err error
	var s *global.Settings

	conf, s, err = loadSettings()
	if err != nil {
		fmt.Printf("Fatal config error: %v\n", err)
		return err
	}
	current.Store(s)

	l, err := newLogger(s)
	if err != nil {
		fmt.Printf("Fatal logger error: %v\n", err)
		return err
	}
	defer l.Close()
	logger = l

	identity, err := loadIdentity(s)
	if err != nil {
		logger.Fatalf(EventStartFailed, "%s", err.Error())
		return err
	}

	sink, closeAudit, err := newAuditSink(s)
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to open audit file: %s", err.Error())
		return err
	}
	defer closeAudit()

	collectors := metrics.New()

	registry, err := actions.New(actions.WithLogger(logger))
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to create action registry: %s", err.Error())
		return err
	}

	options := []func(*service.Service) error{
		service.WithServiceName(global.Name),
		service.WithServiceVersion(global.Version),
		service.WithServiceBuild(global.Build),
		service.WithLogger(logger),
		service.WithTasksFunc(serviceTasks),
		service.WithSEid(8500),
	}

	if m == modeServe {
		agentHost, err = host.New(s,
			host.WithLogger(logger),
			host.WithDispatcher(registry),
			host.WithAudit(sink),
			host.WithMetrics(collectors),
			host.WithIdentity(identity))
		if err != nil {
			logger.Fatalf(EventStartFailed, "unable to create host: %s", err.Error())
			return err
		}
		options = append(options, service.WithRunFunc(runHost))
	}

	if s.BrokerURL != "" {
		worker, err = broker.New(
			broker.WithLogger(logger),
			broker.WithDispatcher(registry),
			broker.WithSettings(current.Load),
			broker.WithAudit(sink),
			broker.WithMetrics(collectors),
			broker.WithIdentity(identity))
		if err != nil {
			logger.Fatalf(EventStartFailed, "unable to create broker worker: %s", err.Error())
			return err
		}
		options = append(options, service.WithRunFunc(func(ctx context.Context, _ interfaces.Logger) error {
			return worker.Run(ctx)
		}))
	} else if m == modeBroker {
		err = errors.New("broker mode requires broker_url")
		logger.Fatal(EventStartFailed, err.Error(), nil)
		return err
	}

	if s.MetricsListen != "" {
		options = append(options, service.WithRunFunc(metricsListener(s, collectors)))
	}

	if conf.C.File() != "" {
		options = append(options, service.WithRunFunc(func(ctx context.Context, l interfaces.Logger) error {
			return conf.Watch(ctx, l, applySettings)
		}))
	}

	logger.Info(EventComponentInit, "components initialized", fields.NewFields(
		fields.NewField("host", agentHost != nil),
		fields.NewField("broker", worker != nil),
		fields.NewField("actions", registry.Names()),
		fields.NewField("metrics_listen", s.MetricsListen)))

	svc, err := service.New(options...)
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to create service: %v", err)
		return err
	}

	err = svc.Start()
	if err != nil {
		logger.Fatalf(EventStartFailed, "service failed: %s", err.Error())
	}
	return err
}

// runHost serves HTTPS until ctx is canceled
func runHost(ctx context.Context, _ interfaces.Logger) error {
	stopped := context.AfterFunc(ctx, func() {
		_ = agentHost.Stop()
	})
	defer stopped()
	return agentHost.Start()
}

// applySettings publishes a reloaded snapshot. The broker worker reads it
// for each job; the host swaps its admission policy.
func applySettings(s *global.Settings) {
	if agentHost != nil {
		if err := agentHost.UpdatePolicy(s); err != nil {
			return
		}
	}
	current.Store(s)
	logger.Info(EventReloadApplied, "configuration reload applied", nil)
}

// metricsListener serves the prometheus endpoint on its own plain HTTP listener
func metricsListener(s *global.Settings, m *metrics.Metrics) service.RunFunc {
	return func(ctx context.Context, l interfaces.Logger) error {
		server, err := userver.New(
			userver.WithLogger(l),
			userver.WithListen(s.MetricsListen),
			userver.WithSEid(EventMetrics),
			userver.WithHealthHandler(true))
		if err != nil {
			return err
		}
		server.AddRoutes(userver.Routes{
			{Name: "metrics", Methods: []string{http.MethodGet}, Pattern: "/metrics", Handler: m.Handler()},
		})

		stopped := context.AfterFunc(ctx, func() { _ = server.Stop() })
		defer stopped()

		err = server.Start()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serviceTasks will be called at the interval specified by TaskTicker
func serviceTasks(l interfaces.Logger) {
	f := fields.NewFields()
	if worker != nil {
		f.Append(fields.NewField("broker_jobs", worker.Running()))
	}
	if agentHost != nil {
		f.Append(fields.NewField("allowed_clients", agentHost.Settings().AllowList.Len()))
	}
	l.Debug(EventStatus, "status", f)
}

// newAuditSink returns the configured audit sinks and a function that
// closes the audit file
func newAuditSink(s *global.Settings) (audit.Sink, func(), error) {
	sinks := audit.Multi{audit.NewLoggerSink(logger)}
	if s.AuditFile == "" {
		return sinks, func() {}, nil
	}

	file, err := audit.NewFileSink(s.AuditFile)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, file)
	return sinks, func() {
		if n := file.Failures(); n > 0 {
			logger.Warningf(EventStatus, "%d audit entries could not be written to %s", n, s.AuditFile)
		}
		_ = file.Close()
	}, nil
}

// newLogger creates a new logger on a best-effort basis
func newLogger(s *global.Settings) (interfaces.LogCloser, error) {
	l, err := ulogger.New(
		ulogger.WithPrefix(global.LogName),
		ulogger.WithLogFile(s.LogFile),
		ulogger.WithLogStdout(s.LogStdout),
		ulogger.WithRetention(s.LogRetention),
		ulogger.WithCompress(s.LogCompress),
		ulogger.WithJSON(s.LogJSON),
		ulogger.WithWindowsEvents(runtime.GOOS == "windows"),
		ulogger.WithDebug(s.Debug))
	if err != nil {

		// If that fails, create a console-only logger
		return ulogger.New(
			ulogger.WithPrefix(global.LogName),
			ulogger.WithLogFile(""),
			ulogger.WithLogStdout(true),
			ulogger.WithRetention(0),
			ulogger.WithDebug(true))
	}
	return l, nil
}
