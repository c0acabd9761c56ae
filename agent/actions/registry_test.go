/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package actions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/agent/directory"
	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common/null"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/schema/commands"
)

func memoryDirectory() *directory.Memory {
	m := directory.NewMemory()
	m.AddUsers(
		schema.UserRecord{SamAccountName: "alice", Enabled: true},
		schema.UserRecord{SamAccountName: "bob", Enabled: false},
		schema.UserRecord{SamAccountName: "carol", Enabled: true},
	)
	m.AddGroupMembers("Admins", schema.GroupMemberRecord{Group: "Admins", SamAccountName: "alice", ObjectClass: "user"})
	return m
}

func newRegistry(t *testing.T, options ...func(*Registry) error) (*Registry, *null.Recorder) {
	t.Helper()
	rec := null.NewRecorder()
	options = append([]func(*Registry) error{WithLogger(rec)}, options...)
	r, err := New(options...)
	require.NoError(t, err)
	return r, rec
}

func settingsWithTimeout(d time.Duration) *global.Settings {
	s := global.Defaults().Clone()
	s.ActionTimeout = d
	return s
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	r, _ := newRegistry(t)
	assert.Equal(t, commands.Names(), r.Names())
	assert.True(t, r.Has("getusers"))
	assert.False(t, r.Has("GetUser"))
}

func TestUnknownActionNeverReachesHandler(t *testing.T) {
	var calls atomic.Int32
	probe := func(context.Context, schema.Request, *global.Settings) (any, error) {
		calls.Add(1)
		return nil, nil
	}
	r, _ := newRegistry(t, WithAction(commands.Command{Name: "Probe"}, probe))

	resp := r.Execute(context.Background(), schema.Request{RequestID: "r1", ActionName: "Prob"}, nil)
	assert.Equal(t, schema.StatusFailed, resp.Status)
	assert.Equal(t, schema.CodeUnknownAction, resp.ErrorCode())
	assert.Equal(t, "r1", resp.RequestID)
	assert.Zero(t, calls.Load())
}

func TestGetUsersExcludesDisabled(t *testing.T) {
	r, _ := newRegistry(t, WithDirectory(memoryDirectory()))

	resp := r.Execute(context.Background(), schema.Request{
		RequestID:  "r2",
		ActionName: "getusers",
		Parameters: schema.Parameters{"includedisabled": "no"},
	}, nil)

	require.Equal(t, schema.StatusSuccess, resp.Status, resp.Error)
	assert.Nil(t, resp.Error)
	users, ok := resp.Payload.([]schema.UserRecord)
	require.True(t, ok)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.True(t, u.Enabled)
	}
}

func TestParameterValidation(t *testing.T) {
	r, _ := newRegistry(t, WithDirectory(memoryDirectory()))

	tests := []struct {
		name   string
		action string
		params schema.Parameters
	}{
		{"unknown parameter", commands.GetUsers, schema.Parameters{"Password": "x"}},
		{"bad boolean", commands.GetUsers, schema.Parameters{"IncludeDisabled": "maybe"}},
		{"filter injection", commands.GetUsers, schema.Parameters{"NameLike": "*)(objectClass=*"}},
		{"unbalanced filter", commands.GetGroups, schema.Parameters{"Filter": "(cn=a"}},
		{"bad search base", commands.GetComputers, schema.Parameters{"SearchBase": "not a dn"}},
		{"negative max", commands.GetUsers, schema.Parameters{"MaxResults": "-1"}},
		{"wildcard group", commands.GetGroupMembers, schema.Parameters{"Group": "Adm*"}},
		{"missing zone", commands.GetDNSRecords, schema.Parameters{}},
		{"ping takes nothing", commands.Ping, schema.Parameters{"x": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Execute(context.Background(), schema.Request{ActionName: tt.action, Parameters: tt.params}, nil)
			assert.Equal(t, schema.CodeInvalidParameter, resp.ErrorCode(), resp.Error)
		})
	}
}

func TestGroupMembers(t *testing.T) {
	r, _ := newRegistry(t, WithDirectory(memoryDirectory()))

	resp := r.Execute(context.Background(), schema.Request{
		ActionName: commands.GetGroupMembers,
		Parameters: schema.Parameters{"Group": "admins", "Recursive": "1"},
	}, nil)
	require.Equal(t, schema.StatusSuccess, resp.Status, resp.Error)
	assert.Len(t, resp.Payload, 1)

	resp = r.Execute(context.Background(), schema.Request{
		ActionName: commands.GetGroupMembers,
		Parameters: schema.Parameters{"Group": "nobody"},
	}, nil)
	assert.Equal(t, schema.CodeActionFailed, resp.ErrorCode())
}

func TestTimeoutReleasesCaller(t *testing.T) {
	slow := func(ctx context.Context, _ schema.Request, _ *global.Settings) (any, error) {
		time.Sleep(2 * time.Second)
		return "late", nil
	}
	r, rec := newRegistry(t, WithAction(commands.Command{Name: "Slow"}, slow))

	start := time.Now()
	resp := r.Execute(context.Background(), schema.Request{RequestID: "r3", ActionName: "Slow"}, settingsWithTimeout(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, schema.CodeTimeout, resp.ErrorCode())
	assert.Nil(t, resp.Payload)
	assert.NotEmpty(t, rec.ByID(EventTimeout))
}

func TestHandlerContextErrorIsTimeout(t *testing.T) {
	waits := func(ctx context.Context, _ schema.Request, _ *global.Settings) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, _ := newRegistry(t, WithAction(commands.Command{Name: "Waits"}, waits))

	resp := r.Execute(context.Background(), schema.Request{ActionName: "Waits"}, settingsWithTimeout(20*time.Millisecond))
	assert.Equal(t, schema.CodeTimeout, resp.ErrorCode())
}

func TestCallerCancelIsTimeout(t *testing.T) {
	waits := func(ctx context.Context, _ schema.Request, _ *global.Settings) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, _ := newRegistry(t, WithAction(commands.Command{Name: "Waits"}, waits))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	resp := r.Execute(ctx, schema.Request{ActionName: "Waits"}, settingsWithTimeout(time.Minute))
	assert.Equal(t, schema.CodeTimeout, resp.ErrorCode())
	assert.Contains(t, resp.Error.Message, "canceled")
}

func TestPanicIsUnhandledException(t *testing.T) {
	boom := func(context.Context, schema.Request, *global.Settings) (any, error) {
		panic("boom")
	}
	r, rec := newRegistry(t, WithAction(commands.Command{Name: "Boom"}, boom))

	resp := r.Execute(context.Background(), schema.Request{RequestID: "r4", ActionName: "Boom"}, nil)
	require.Equal(t, schema.CodeUnhandledException, resp.ErrorCode())
	assert.Equal(t, "boom", resp.Error.Message)
	assert.Contains(t, resp.Error.Details, "goroutine")
	assert.Len(t, rec.ByID(EventPanic), 1)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{NewError("Custom", "custom failure"), "Custom"},
		{directory.ErrUnavailable, schema.CodeDirectoryUnavailable},
		{directory.ErrFilterChars, schema.CodeInvalidParameter},
		{errors.New("plain"), schema.CodeActionFailed},
	}
	for _, tt := range tests {
		err := tt.err
		fails := func(context.Context, schema.Request, *global.Settings) (any, error) { return nil, err }
		r, _ := newRegistry(t, WithAction(commands.Command{Name: "Fails"}, fails))

		resp := r.Execute(context.Background(), schema.Request{ActionName: "Fails"}, nil)
		assert.Equal(t, tt.code, resp.ErrorCode(), tt.err.Error())
		assert.Nil(t, resp.Payload)
	}
}

func TestDirectoryNotConfigured(t *testing.T) {
	r, _ := newRegistry(t)
	resp := r.Execute(context.Background(), schema.Request{ActionName: commands.GetGroups}, nil)
	assert.Equal(t, schema.CodeDirectoryUnavailable, resp.ErrorCode())
}

func TestDirectorySourceCachesProvider(t *testing.T) {
	d := &directorySource{}
	s := global.Defaults().Clone()
	s.Directory.URL = "ldap://dc01.corp.example"

	first, err := d.get(s)
	require.NoError(t, err)
	second, err := d.get(s)
	require.NoError(t, err)
	assert.Same(t, first, second)

	s = s.Clone()
	s.Directory.BaseDN = "DC=corp,DC=example"
	third, err := d.get(s)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestPing(t *testing.T) {
	r, _ := newRegistry(t)
	s := global.Defaults().Clone()
	s.AgentID = "agent-7"

	resp := r.Execute(context.Background(), schema.Request{ActionName: "PING"}, s)
	require.Equal(t, schema.StatusSuccess, resp.Status)
	p, ok := resp.Payload.(schema.PingResult)
	require.True(t, ok)
	assert.Equal(t, "agent-7", p.Agent)
	assert.Equal(t, global.Version, p.Version)
}

func TestRunScriptDisabled(t *testing.T) {
	r, _ := newRegistry(t)
	s := global.Defaults().Clone()
	s.ScriptShell = ""

	resp := r.Execute(context.Background(), schema.Request{
		ActionName: commands.RunScript,
		Parameters: schema.Parameters{"Script": "echo hi"},
	}, s)
	assert.Equal(t, schema.CodeActionFailed, resp.ErrorCode())
	assert.Contains(t, resp.Error.Message, "disabled")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", " Yes "} {
		b, err := ParseBool(v)
		require.NoError(t, err, v)
		assert.True(t, b, v)
	}
	for _, v := range []string{"false", "0", "no", "NO"} {
		b, err := ParseBool(v)
		require.NoError(t, err, v)
		assert.False(t, b, v)
	}
	for _, v := range []string{"", "y", "2", "on"} {
		_, err := ParseBool(v)
		assert.Error(t, err, v)
	}
}
