/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package actions

import (
	"context"
	"strings"
	"time"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common/runCmd"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/schema/commands"
)

// handlers implements the built-in actions
type handlers struct {
	dir *directorySource
}

func (h *handlers) getUsers(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	q, err := args{req.Parameters}.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.Users(ctx, q)
}

func (h *handlers) getGroups(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	q, err := args{req.Parameters}.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.Groups(ctx, q)
}

func (h *handlers) getGroupMembers(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	a := args{req.Parameters}
	group, err := a.name(commands.ArgGroup)
	if err != nil {
		return nil, err
	}
	recursive, err := a.boolean(commands.ArgRecursive, false)
	if err != nil {
		return nil, err
	}
	maxResults, err := a.maxResults()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.GroupMembers(ctx, group, recursive, maxResults)
}

func (h *handlers) getComputers(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	q, err := args{req.Parameters}.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.Computers(ctx, q)
}

func (h *handlers) getGPOs(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	q, err := args{req.Parameters}.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.GPOs(ctx, q)
}

func (h *handlers) getDNSZones(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	q, err := args{req.Parameters}.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.DNSZones(ctx, q)
}

func (h *handlers) getDNSRecords(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	a := args{req.Parameters}
	zone, err := a.name(commands.ArgZone)
	if err != nil {
		return nil, err
	}
	q, err := a.query()
	if err != nil {
		return nil, err
	}
	d, err := h.dir.get(s)
	if err != nil {
		return nil, err
	}
	return d.DNSRecords(ctx, zone, q)
}

// runScript passes the body to the configured shell on stdin. A non-zero
// exit code is a successful action; the caller inspects ExitCode.
func (h *handlers) runScript(ctx context.Context, req schema.Request, s *global.Settings) (any, error) {
	if strings.TrimSpace(s.ScriptShell) == "" {
		return nil, NewError(schema.CodeActionFailed, "RunScript is disabled: script_shell is not configured")
	}

	a := args{req.Parameters}
	res, err := runCmd.Script(ctx, s.ScriptShell, a.p.Value(commands.ArgScript),
		strings.Fields(a.p.Value(commands.ArgArguments)), s.ScriptMaxOutput)
	if err != nil {
		return nil, err
	}
	return schema.ScriptResult{
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Truncated: res.Truncated,
	}, nil
}

func (h *handlers) ping(_ context.Context, _ schema.Request, s *global.Settings) (any, error) {
	return schema.PingResult{
		Agent:   s.AgentID,
		Version: global.Version,
		Time:    time.Now().UTC(),
	}, nil
}
