/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package broker

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/null"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/testcert"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []schema.Request
	payload  any
	release  chan struct{}
	started  chan string
}

func (d *fakeDispatcher) Execute(ctx context.Context, req schema.Request, _ *global.Settings) schema.Response {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	release := d.release
	d.mu.Unlock()

	if d.started != nil {
		d.started <- req.RequestID
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return schema.NewFailure(req.RequestID, schema.CodeTimeout, "canceled", 0)
		}
	}
	return schema.NewSuccess(req.RequestID, d.payload, time.Millisecond)
}

func (d *fakeDispatcher) Names() []string {
	return []string{"GetUsers", "Ping"}
}

func (d *fakeDispatcher) last() schema.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

type testBroker struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	url   string
}

type fixture struct {
	t      *testing.T
	broker *testBroker
	worker *Worker
	disp   *fakeDispatcher
	audit  *audit.Memory
	log    *null.Recorder
	stop   context.CancelFunc
	done   chan error
}

func newFixture(t *testing.T, disp *fakeDispatcher) *fixture {
	t.Helper()

	ca, err := testcert.NewCA("broker ca")
	require.NoError(t, err)
	serverPair, err := ca.Issue(testcert.LeafOptions{CommonName: "broker", Server: true})
	require.NoError(t, err)
	clientPair, err := ca.Issue(testcert.LeafOptions{CommonName: "agent", Client: true})
	require.NoError(t, err)
	caFile, _, err := ca.WriteFiles(t.TempDir(), "ca")
	require.NoError(t, err)

	b := &testBroker{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	b.srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverPair.TLS()},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    ca.Pool(),
	}
	b.srv.StartTLS()
	t.Cleanup(b.srv.Close)
	b.url = "wss" + strings.TrimPrefix(b.srv.URL, "https") + "/api/v1/agents/ws"

	s := global.Defaults().Clone()
	s.BrokerURL = b.url
	s.BrokerCAFile = caFile
	s.AgentID = "agent-1"
	s.ReconnectMin = 10 * time.Millisecond
	s.ReconnectMax = 50 * time.Millisecond
	s.MaxConcurrentRequests = 2

	f := &fixture{
		t:      t,
		broker: b,
		disp:   disp,
		audit:  &audit.Memory{},
		log:    null.NewRecorder(),
		done:   make(chan error, 1),
	}

	f.worker, err = New(
		WithLogger(f.log),
		WithDispatcher(disp),
		WithSettings(func() *global.Settings { return s }),
		WithAudit(f.audit),
		WithIdentity(&certstore.Identity{Cert: clientPair.Cert, Key: clientPair.Key}),
		WithHostname("dc-inventory-01"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.stop = cancel
	go func() { f.done <- f.worker.Run(ctx) }()
	t.Cleanup(f.shutdown)
	return f
}

func (f *fixture) shutdown() {
	f.stop()
	select {
	case err := <-f.done:
		assert.NoError(f.t, err)
	case <-time.After(5 * time.Second):
		f.t.Error("worker did not stop")
	}
}

// accept waits for the next agent connection and checks its descriptor
func (f *fixture) accept() *websocket.Conn {
	f.t.Helper()
	var conn *websocket.Conn
	select {
	case conn = <-f.broker.conns:
	case <-time.After(5 * time.Second):
		f.t.Fatal("agent did not connect")
	}
	f.t.Cleanup(func() { _ = conn.Close() })

	env := f.read(conn)
	require.Equal(f.t, schema.MsgAgentConnect, env.Type)
	var d schema.AgentDescriptor
	require.NoError(f.t, env.Decode(&d))
	assert.Equal(f.t, "agent-1", d.AgentID)
	assert.Equal(f.t, "dc-inventory-01", d.Host)
	assert.Equal(f.t, global.Version, d.Version)
	assert.Equal(f.t, []string{"GetUsers", "Ping"}, d.Capabilities)
	return conn
}

func (f *fixture) read(conn *websocket.Conn) schema.Envelope {
	f.t.Helper()
	require.NoError(f.t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env schema.Envelope
	require.NoError(f.t, conn.ReadJSON(&env))
	return env
}

// result reads until the submit_result for jobID, returning the progress
// updates seen on the way
func (f *fixture) result(conn *websocket.Conn, jobID string) (schema.SubmitResult, []schema.ProgressUpdate) {
	f.t.Helper()
	var updates []schema.ProgressUpdate
	for {
		env := f.read(conn)
		if env.JobID != jobID {
			continue
		}
		switch env.Type {
		case schema.MsgProgressUpdate:
			var p schema.ProgressUpdate
			require.NoError(f.t, env.Decode(&p))
			updates = append(updates, p)
		case schema.MsgSubmitResult:
			var r schema.SubmitResult
			require.NoError(f.t, env.Decode(&r))
			return r, updates
		}
	}
}

func (f *fixture) waitProgress(conn *websocket.Conn, jobID string, state schema.JobState) {
	f.t.Helper()
	for {
		env := f.read(conn)
		if env.Type != schema.MsgProgressUpdate || env.JobID != jobID {
			continue
		}
		var p schema.ProgressUpdate
		require.NoError(f.t, env.Decode(&p))
		if p.State == state {
			return
		}
	}
}

func dispatchJob(t *testing.T, conn *websocket.Conn, jobID string, d schema.DispatchJob) {
	t.Helper()
	env, err := schema.NewEnvelope(schema.MsgDispatchJob, jobID, d)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func TestNewValidation(t *testing.T) {
	s := global.Defaults()
	settings := func() *global.Settings { return s }
	disp := &fakeDispatcher{}

	_, err := New(WithDispatcher(disp), WithSettings(settings))
	assert.Error(t, err)

	_, err = New(WithLogger(null.Logger()), WithSettings(settings))
	assert.Error(t, err)

	_, err = New(WithLogger(null.Logger()), WithDispatcher(disp))
	assert.Error(t, err)

	// broker_url is empty by default
	_, err = New(WithLogger(null.Logger()), WithDispatcher(disp), WithSettings(settings))
	assert.Error(t, err)

	withURL := s.Clone()
	withURL.BrokerURL = "wss://broker.example.com/api/v1/agents/ws"
	_, err = New(WithLogger(null.Logger()), WithDispatcher(disp),
		WithSettings(func() *global.Settings { return withURL }))
	assert.Error(t, err, "identity is required to build the TLS config")
}

func TestJobCompletes(t *testing.T) {
	disp := &fakeDispatcher{payload: []schema.UserRecord{
		{SamAccountName: "alice", Enabled: true},
		{SamAccountName: "carol", Enabled: true},
	}}
	f := newFixture(t, disp)
	conn := f.accept()

	dispatchJob(t, conn, "job-1", schema.DispatchJob{
		ModuleName:    "GetUsers",
		Parameters:    schema.Parameters{"IncludeDisabled": "false"},
		RequestedBy:   "analyst@example.com",
		CorrelationID: "corr-9",
	})

	result, updates := f.result(conn, "job-1")
	require.NotEmpty(t, updates)
	assert.Equal(t, schema.JobCreated, updates[0].State)
	assert.Equal(t, schema.JobCompleted, result.State)
	assert.Empty(t, result.Result.Errors)
	require.Len(t, result.Result.Items, 2)
	assert.Equal(t, "alice", result.Result.Items[0]["SamAccountName"])
	assert.False(t, result.StartedAt.IsZero())
	assert.False(t, result.CompletedAt.Before(result.StartedAt))

	req := disp.last()
	assert.Equal(t, "job-1", req.RequestID)
	assert.Equal(t, "GetUsers", req.ActionName)
	assert.Equal(t, "corr-9", req.CorrelationID)
	assert.NotEmpty(t, req.Nonce)
	assert.NotZero(t, req.TimestampUnixSeconds)
	assert.Equal(t, "false", req.Parameters.Value("includedisabled"))

	require.Eventually(t, func() bool { return len(f.audit.Entries()) == 1 }, 5*time.Second, 10*time.Millisecond)
	e := f.audit.Entries()[0]
	assert.Equal(t, audit.TransportBroker, e.Transport)
	assert.Equal(t, "job-1", e.RequestID)
	assert.Equal(t, "corr-9", e.CorrelationID)
	assert.Equal(t, "analyst@example.com", e.Subject)
	assert.Equal(t, "Success", e.Status)
}

func TestCancelJob(t *testing.T) {
	disp := &fakeDispatcher{release: make(chan struct{})}
	f := newFixture(t, disp)
	conn := f.accept()

	dispatchJob(t, conn, "job-2", schema.DispatchJob{ModuleName: "GetUsers"})
	f.waitProgress(conn, "job-2", schema.JobRunning)

	cancel, err := schema.NewEnvelope(schema.MsgCancelJob, "job-2", schema.CancelJob{Reason: "operator request"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(cancel))

	result, _ := f.result(conn, "job-2")
	assert.Equal(t, schema.JobFailed, result.State)
	require.Len(t, result.Result.Errors, 1)
	assert.Equal(t, schema.CodeCanceled, result.Result.Errors[0].Code)
	assert.Empty(t, result.Result.Items)

	require.Eventually(t, func() bool { return f.worker.Running() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, f.log.ByID(EventCancel))
}

func TestMalformedDispatch(t *testing.T) {
	f := newFixture(t, &fakeDispatcher{})
	conn := f.accept()

	dispatchJob(t, conn, "job-3", schema.DispatchJob{})

	result, _ := f.result(conn, "job-3")
	assert.Equal(t, schema.JobFailed, result.State)
	require.Len(t, result.Result.Errors, 1)
	assert.Equal(t, schema.CodeMalformedRequest, result.Result.Errors[0].Code)
	assert.True(t, result.StartedAt.IsZero())
}

func TestFailedActionReportsErrors(t *testing.T) {
	f := newFixture(t, &fakeDispatcher{payload: make(chan int)})
	conn := f.accept()

	dispatchJob(t, conn, "job-4", schema.DispatchJob{ModuleName: "Ping"})

	// A channel payload cannot be converted to rows
	result, _ := f.result(conn, "job-4")
	assert.Equal(t, schema.JobFailed, result.State)
	require.Len(t, result.Result.Errors, 1)
	assert.Equal(t, schema.CodeActionFailed, result.Result.Errors[0].Code)
}

func TestPingAnswered(t *testing.T) {
	f := newFixture(t, &fakeDispatcher{})
	conn := f.accept()

	ping, err := schema.NewEnvelope(schema.MsgPing, "", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	env := f.read(conn)
	assert.Equal(t, schema.MsgPing, env.Type)
}

func TestResultSurvivesReconnect(t *testing.T) {
	disp := &fakeDispatcher{release: make(chan struct{}), started: make(chan string, 1)}
	f := newFixture(t, disp)

	first := f.accept()
	dispatchJob(t, first, "job-5", schema.DispatchJob{ModuleName: "Ping"})
	<-disp.started

	// Drop the connection while the job is running
	require.NoError(t, first.Close())
	second := f.accept()
	close(disp.release)

	result, _ := f.result(second, "job-5")
	assert.Equal(t, schema.JobCompleted, result.State)
	assert.NotEmpty(t, f.log.ByID(EventReconnect))
}

func TestDuplicateDispatchIgnored(t *testing.T) {
	disp := &fakeDispatcher{release: make(chan struct{}), started: make(chan string, 2)}
	f := newFixture(t, disp)
	conn := f.accept()

	dispatchJob(t, conn, "job-6", schema.DispatchJob{ModuleName: "Ping"})
	<-disp.started
	dispatchJob(t, conn, "job-6", schema.DispatchJob{ModuleName: "Ping"})

	require.Eventually(t, func() bool { return len(f.log.ByID(EventDuplicateJob)) == 1 }, 5*time.Second, 10*time.Millisecond)
	close(disp.release)

	result, _ := f.result(conn, "job-6")
	assert.Equal(t, schema.JobCompleted, result.State)
}

func TestOutbox(t *testing.T) {
	o := newOutbox(1)
	progress := schema.Envelope{Type: schema.MsgProgressUpdate, JobID: "a"}
	result := schema.Envelope{Type: schema.MsgSubmitResult, JobID: "a"}

	assert.True(t, o.Add(result))
	assert.False(t, o.Add(result))
	assert.True(t, o.Pending())

	// Progress is dropped rather than requeued
	assert.True(t, o.ReQueue(progress))
	assert.Equal(t, 1, o.Size())

	env, ok := o.Read()
	assert.True(t, ok)
	assert.Equal(t, schema.MsgSubmitResult, env.Type)

	_, ok = o.Read()
	assert.False(t, ok)
	assert.True(t, o.ReQueue(result))
	assert.Equal(t, 1, o.Size())
}

func TestTLSConfig(t *testing.T) {
	_, err := TLSConfig(nil, "")
	assert.Error(t, err)

	ca, err := testcert.NewCA("ca")
	require.NoError(t, err)
	leaf, err := ca.Issue(testcert.LeafOptions{Client: true})
	require.NoError(t, err)
	id := &certstore.Identity{Cert: leaf.Cert, Key: leaf.Key}

	_, err = TLSConfig(id, "/nonexistent/ca.pem")
	assert.Error(t, err)

	caFile, _, err := ca.WriteFiles(t.TempDir(), "ca")
	require.NoError(t, err)
	c, err := TLSConfig(id, caFile)
	require.NoError(t, err)
	assert.Len(t, c.Certificates, 1)
	assert.NotNil(t, c.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
}
