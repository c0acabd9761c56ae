/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package actions maps action names to handlers and runs each handler under
// the configured timeout. Every outcome, including a panic, is returned as a
// schema.Response; nothing escapes to the transport.
package actions

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/agent/directory"
	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/schema/commands"
)

// Event ids
const (
	EventDispatch  = 3101
	EventFailed    = 3102
	EventPanic     = 3103
	EventTimeout   = 3104
	EventDirectory = 3105
)

// DefaultTimeout applies when the settings carry no action timeout
const DefaultTimeout = 60 * time.Second

// maxLoggedError caps failure text copied into log entries
const maxLoggedError = 512

// Handler runs one action. The parameters have passed the action's
// allow-list. The returned payload must be JSON serializable.
type Handler func(ctx context.Context, req schema.Request, settings *global.Settings) (any, error)

type entry struct {
	cmd     commands.Command
	handler Handler
}

// Registry is built once at startup and is safe for concurrent use
type Registry struct {
	logger    interfaces.Logger
	directory *directorySource
	entries   map[string]entry // keyed by folded action name
}

//goland:noinspection DuplicatedCode
func New(options ...func(*Registry) error) (*Registry, error) {
	r := &Registry{
		entries:   make(map[string]entry),
		directory: &directorySource{},
	}

	for _, option := range options {
		err := option(r)
		if err != nil {
			return nil, err
		}
	}

	// Check for mandatory fields
	if r.logger == nil {
		return nil, errors.New("logger is required")
	}
	r.directory.logger = r.logger

	// Built-in actions. Options registered earlier take precedence.
	h := &handlers{dir: r.directory}
	r.addDefault(commands.GetUsers, h.getUsers)
	r.addDefault(commands.GetGroups, h.getGroups)
	r.addDefault(commands.GetGroupMembers, h.getGroupMembers)
	r.addDefault(commands.GetComputers, h.getComputers)
	r.addDefault(commands.GetGPOs, h.getGPOs)
	r.addDefault(commands.GetDNSZones, h.getDNSZones)
	r.addDefault(commands.GetDNSRecords, h.getDNSRecords)
	r.addDefault(commands.RunScript, h.runScript)
	r.addDefault(commands.Ping, h.ping)

	return r, nil
}

func WithLogger(logger interfaces.Logger) func(*Registry) error {
	return func(r *Registry) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		r.logger = logger
		return nil
	}
}

// WithDirectory uses d for every directory action instead of an LDAP
// connection built from the settings
func WithDirectory(d directory.Directory) func(*Registry) error {
	return func(r *Registry) error {
		if d == nil {
			return errors.New("directory is nil")
		}
		r.directory.fixed = d
		return nil
	}
}

// WithAction registers a handler for cmd, replacing any built-in handler of
// the same name
func WithAction(cmd commands.Command, handler Handler) func(*Registry) error {
	return func(r *Registry) error {
		if cmd.Name == "" || handler == nil {
			return errors.New("action name and handler are required")
		}
		r.entries[schema.FoldKey(cmd.Name)] = entry{cmd: cmd, handler: handler}
		return nil
	}
}

func (r *Registry) addDefault(name string, handler Handler) {
	key := schema.FoldKey(name)
	if _, exists := r.entries[key]; exists {
		return
	}
	cmd, ok := commands.Lookup(name)
	if !ok {
		panic("action without a command definition: " + name)
	}
	r.entries[key] = entry{cmd: cmd, handler: handler}
}

// Names returns the registered action names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.cmd.Name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name resolves to an action
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[schema.FoldKey(name)]
	return ok
}

// outcome is what the handler goroutine reports
type outcome struct {
	payload any
	err     error
	panic   any
	stack   []byte
}

// Execute resolves the action, validates its parameters and runs it bounded
// by settings.ActionTimeout and ctx. Cancellation of either yields Timeout.
// The returned DurationMs covers validation and handler execution.
func (r *Registry) Execute(ctx context.Context, req schema.Request, settings *global.Settings) schema.Response {
	start := time.Now()

	if settings == nil {
		settings = global.Defaults()
	}

	f := fields.NewFields(
		fields.NewField("request_id", req.RequestID),
		fields.NewField("action", req.ActionName),
	)
	if req.CorrelationID != "" {
		f.Append(fields.NewField("correlation_id", req.CorrelationID))
	}

	e, ok := r.entries[schema.FoldKey(req.ActionName)]
	if !ok {
		return schema.NewFailure(req.RequestID, schema.CodeUnknownAction,
			fmt.Sprintf("unknown action: %s", req.ActionName), time.Since(start))
	}

	if err := checkParameters(e.cmd, req.Parameters); err != nil {
		code, msg := classify(err)
		f.Append(fields.NewField("error", msg))
		r.logger.Info(EventFailed, "parameters rejected", f)
		return schema.NewFailure(req.RequestID, code, msg, time.Since(start))
	}

	timeout := settings.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debug(EventDispatch, "dispatching action", f)

	// Buffered so that a handler finishing after the deadline never blocks
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{panic: p, stack: debug.Stack()}
			}
		}()
		payload, err := e.handler(tctx, req, settings)
		done <- outcome{payload: payload, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-tctx.Done():
		return r.timeout(tctx, req, timeout, start, f)
	}

	switch {
	case o.panic != nil:
		f.Append(fields.NewField("panic", fmt.Sprint(o.panic)), fields.NewField("stack", string(o.stack)))
		r.logger.Error(EventPanic, "action handler panicked", f)
		return schema.NewFailure(req.RequestID, schema.CodeUnhandledException,
			fmt.Sprint(o.panic), time.Since(start)).WithDetails(string(o.stack))

	case o.err != nil:
		// A handler that returns its context error is reported as a timeout
		if tctx.Err() != nil && (errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled)) {
			return r.timeout(tctx, req, timeout, start, f)
		}
		code, msg := classify(o.err)
		f.Append(fields.NewField("code", code), fields.NewField("error", common.Truncate(common.SingleLine(msg), maxLoggedError)))
		r.logger.Warning(EventFailed, "action failed", f)
		return schema.NewFailure(req.RequestID, code, msg, time.Since(start))
	}

	return schema.NewSuccess(req.RequestID, o.payload, time.Since(start))
}

func (r *Registry) timeout(ctx context.Context, req schema.Request, timeout time.Duration, start time.Time, f *fields.Fields) schema.Response {
	msg := fmt.Sprintf("action %s exceeded %s", req.ActionName, timeout)
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = fmt.Sprintf("action %s canceled", req.ActionName)
	}
	f.Append(fields.NewField("timeout", timeout.String()), fields.NewField("error", msg))
	r.logger.Warning(EventTimeout, "action did not complete", f)
	return schema.NewFailure(req.RequestID, schema.CodeTimeout, msg, time.Since(start))
}

// directorySource resolves the directory for the current settings. The LDAP
// provider is rebuilt when the directory settings change.
type directorySource struct {
	logger interfaces.Logger
	fixed  directory.Directory
	mu     sync.Mutex
	last   global.DirectorySettings
	ldap   *directory.LDAP
}

func (d *directorySource) get(settings *global.Settings) (directory.Directory, error) {
	if d.fixed != nil {
		return d.fixed, nil
	}

	ds := settings.Directory
	if strings.TrimSpace(ds.URL) == "" {
		return nil, fmt.Errorf("%w: directory_url is not configured", directory.ErrUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ldap != nil && d.last == ds {
		return d.ldap, nil
	}

	l, err := directory.NewLDAP(directory.LDAPConfig{
		URL:          ds.URL,
		BaseDN:       ds.BaseDN,
		BindDN:       ds.BindDN,
		BindPassword: ds.BindPassword,
		Insecure:     ds.Insecure,
		PageSize:     ds.PageSize,
		MaxResults:   ds.MaxResults,
		Timeout:      settings.ActionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", directory.ErrUnavailable, err.Error())
	}

	if d.logger != nil {
		d.logger.Info(EventDirectory, "directory provider configured", fields.NewFields(
			fields.NewField("url", ds.URL),
			fields.NewField("base_dn", ds.BaseDN),
			fields.NewField("insecure", ds.Insecure)))
	}
	d.ldap = l
	d.last = ds
	return l, nil
}
