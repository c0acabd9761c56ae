/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/service"
	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/common/ulogger"
	"github.com/UnifyEM/diragent/server/api"
	"github.com/UnifyEM/diragent/server/db"
	"github.com/UnifyEM/diragent/server/global"
	"github.com/UnifyEM/diragent/server/hub"
	"github.com/UnifyEM/diragent/server/tasks"
)

var conf *global.ServerConfig
var logger interfaces.Logger
var store *db.DB
var agentHub *hub.Hub
var allowList atomic.Pointer[thumbprint.AllowList]

// startService wires the components and runs them until the service stops
func startService() error {
	var err error
	var s *global.Settings

	conf, s, err = loadSettings()
	if err != nil {
		fmt.Printf("Fatal config error: %v\n", err)
		return err
	}

	l, err := newLogger(s)
	if err != nil {
		fmt.Printf("Fatal logger error: %v\n", err)
		return err
	}
	defer l.Close()
	logger = l

	store, err = db.Open(s.DBFile, logger)
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to open database: %s", err.Error())
		return err
	}

	// No agent can be connected before the hub starts
	if err = store.ResetConnections(); err != nil {
		logger.Warningf(EventStartFailed, "unable to reset agent connection state: %s", err.Error())
	}

	var metrics *hub.Metrics
	if s.Metrics {
		metrics = hub.NewMetrics()
	}

	allowList.Store(s.AgentAllowList)
	agentHub, err = hub.New(
		hub.WithLogger(logger),
		hub.WithStore(store),
		hub.WithMetrics(metrics),
		hub.WithAllowList(allowList.Load))
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to create hub: %s", err.Error())
		store.Close()
		return err
	}

	apiInstance, err := api.New(
		api.WithLogger(logger),
		api.WithSettings(s),
		api.WithStore(store),
		api.WithHub(agentHub),
		api.WithMetrics(metrics))
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to create API: %s", err.Error())
		store.Close()
		return err
	}

	options := []func(*service.Service) error{
		service.WithServiceName(global.Name),
		service.WithServiceVersion(global.Version),
		service.WithServiceBuild(global.Build),
		service.WithLogger(logger),
		service.WithRunFunc(func(ctx context.Context, _ interfaces.Logger) error {
			apiInstance.Run(ctx)
			return nil
		}),
		service.WithTasksFunc(serviceTasks),
		service.WithStopFunc(serviceStopping),
		service.WithSEid(8500),
	}

	// An empty schedule disables pruning
	if s.PruneSchedule != "" {
		pruner, err := tasks.New(
			tasks.WithLogger(logger),
			tasks.WithStore(store),
			tasks.WithSchedule(s.PruneSchedule),
			tasks.WithRetention(s.JobRetention, s.AgentRetention))
		if err != nil {
			logger.Fatalf(EventStartFailed, "unable to create pruner: %s", err.Error())
			store.Close()
			return err
		}
		options = append(options, service.WithRunFunc(func(ctx context.Context, _ interfaces.Logger) error {
			return pruner.Run(ctx)
		}))
	}

	if conf.C.File() != "" {
		options = append(options, service.WithRunFunc(func(ctx context.Context, l interfaces.Logger) error {
			return conf.Watch(ctx, l, applySettings)
		}))
	}

	if s.AgentAllowList.Len() == 0 {
		logger.Warning(EventComponentInit, "no agent thumbprints are allowed, every agent will be rejected", nil)
	}

	logger.Info(EventComponentInit, "components initialized", fields.NewFields(
		fields.NewField("listen", s.Listen),
		fields.NewField("db", s.DBFile),
		fields.NewField("allowed_agents", s.AgentAllowList.Len()),
		fields.NewField("metrics", s.Metrics)))

	svc, err := service.New(options...)
	if err != nil {
		logger.Fatalf(EventStartFailed, "unable to create service: %v", err)
		store.Close()
		return err
	}

	err = svc.Start()
	if err != nil {
		logger.Fatalf(EventStartFailed, "service failed: %s", err.Error())
	}

	// Every component has returned, the database is no longer in use
	store.Close()
	return err
}

// applySettings swaps in a reloaded agent allow-list. Listener, database
// and token settings take effect after a restart.
func applySettings(s *global.Settings) {
	allowList.Store(s.AgentAllowList)
	logger.Info(EventReloadApplied, "agent allow-list updated", fields.NewFields(
		fields.NewField("allowed_agents", s.AgentAllowList.Len())))
}

// serviceTasks will be called at the interval specified by TaskTicker
func serviceTasks(l interfaces.Logger) {
	l.Debug(EventStatus, "status", fields.NewFields(
		fields.NewField("connected_agents", agentHub.ConnectedCount())))
}

// serviceStopping is called when the service is about to exit
func serviceStopping(l interfaces.Logger) {
	l.Info(EventStopping, "closing agent connections", nil)
	agentHub.Close()

	if err := conf.Checkpoint(); err != nil {
		l.Warningf(EventStopping, "error saving configuration: %s", err.Error())
	}
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
		ulogger.WithDebug(s.Debug || global.Debug))
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
