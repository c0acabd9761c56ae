/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package tasks runs scheduled broker maintenance
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
)

//goland:noinspection ALL
const (
	EventPruneStarted   = 5301
	EventPruneCompleted = 5302
	EventPruneError     = 5303
	EventScheduled      = 5304
	EventCron           = 5305
)

// Store is the part of the database the pruner needs
type Store interface {
	PruneJobs(cutoff time.Time) (int, error)
	PruneAgents(cutoff time.Time) (int, error)
}

// Pruner removes finished jobs and long departed agents on a cron schedule.
// A zero retention disables that half of the prune.
type Pruner struct {
	logger         interfaces.Logger
	store          Store
	clock          clock.Clock
	schedule       string
	jobRetention   time.Duration
	agentRetention time.Duration
}

func New(options ...func(*Pruner) error) (*Pruner, error) {
	p := &Pruner{clock: clock.Real(), schedule: "@daily"}
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	if p.logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.store == nil {
		return nil, errors.New("store is required")
	}
	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}
	return p, nil
}

func WithLogger(logger interfaces.Logger) func(*Pruner) error {
	return func(p *Pruner) error {
		p.logger = logger
		return nil
	}
}

func WithStore(store Store) func(*Pruner) error {
	return func(p *Pruner) error {
		p.store = store
		return nil
	}
}

func WithClock(c clock.Clock) func(*Pruner) error {
	return func(p *Pruner) error {
		if c == nil {
			return errors.New("clock is nil")
		}
		p.clock = c
		return nil
	}
}

// WithSchedule accepts a standard five field cron spec or a descriptor such as @daily
func WithSchedule(spec string) func(*Pruner) error {
	return func(p *Pruner) error {
		p.schedule = spec
		return nil
	}
}

func WithRetention(jobs, agents time.Duration) func(*Pruner) error {
	return func(p *Pruner) error {
		if jobs < 0 || agents < 0 {
			return errors.New("retention cannot be negative")
		}
		p.jobRetention = jobs
		p.agentRetention = agents
		return nil
	}
}

// Run schedules the prune and blocks until ctx is canceled. A prune still
// running when ctx ends is allowed to finish.
func (p *Pruner) Run(ctx context.Context) error {
	cl := cronLogger{logger: p.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc(p.schedule, p.Prune); err != nil {
		return err
	}

	p.logger.Info(EventScheduled, "database prune scheduled", fields.NewFields(
		fields.NewField("schedule", p.schedule),
		fields.NewField("job_retention", p.jobRetention.String()),
		fields.NewField("agent_retention", p.agentRetention.String())))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Prune removes expired records once. It logs and handles its own errors.
func (p *Pruner) Prune() {
	startTime := p.clock.Now()
	p.logger.Info(EventPruneStarted, "pruning database started", nil)

	f := fields.NewFields()
	if p.jobRetention > 0 {
		n, err := p.store.PruneJobs(startTime.Add(-p.jobRetention))
		p.pruneError("jobs", err)
		f.Append(fields.NewField("jobs", n))
	}
	if p.agentRetention > 0 {
		n, err := p.store.PruneAgents(startTime.Add(-p.agentRetention))
		p.pruneError("agents", err)
		f.Append(fields.NewField("agents", n))
	}

	f.Append(fields.NewField("seconds", fmt.Sprintf("%.2f", time.Since(startTime).Seconds())))
	p.logger.Info(EventPruneCompleted, "pruning database completed", f)
}

func (p *Pruner) pruneError(what string, err error) {
	if err != nil {
		p.logger.Warning(EventPruneError, fmt.Sprintf("error pruning %s: %s", what, err.Error()), nil)
	}
}

// cronLogger adapts interfaces.Logger to cron.Logger
type cronLogger struct {
	logger interfaces.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(EventCron, "cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	f := kvFields(keysAndValues)
	f.Append(fields.NewField("error", err.Error()))
	l.logger.Error(EventCron, "cron: "+msg, f)
}

func kvFields(kv []any) *fields.Fields {
	f := fields.NewFields()
	for i := 0; i+1 < len(kv); i += 2 {
		f.Append(fields.NewField(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return f
}
