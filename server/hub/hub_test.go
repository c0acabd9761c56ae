/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package hub

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/agent/broker"
	agentglobal "github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/null"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/testcert"
	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/server/db"
)

type fixture struct {
	t        *testing.T
	hub      *Hub
	store    *db.DB
	log      *null.Recorder
	metrics  *Metrics
	ca       *testcert.CA
	agent    *testcert.Pair
	stranger *testcert.Pair
	srv      *httptest.Server
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ca, err := testcert.NewCA("agents ca")
	require.NoError(t, err)
	serverPair, err := ca.Issue(testcert.LeafOptions{CommonName: "broker", Server: true})
	require.NoError(t, err)
	agentPair, err := ca.Issue(testcert.LeafOptions{CommonName: "dc01", Client: true})
	require.NoError(t, err)
	stranger, err := ca.Issue(testcert.LeafOptions{CommonName: "intruder", Client: true})
	require.NoError(t, err)

	allow, err := thumbprint.NewAllowList([]string{thumbprint.SHA1(agentPair.Cert)})
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		log:      null.NewRecorder(),
		metrics:  NewMetrics(),
		ca:       ca,
		agent:    agentPair,
		stranger: stranger,
	}

	f.store, err = db.Open(filepath.Join(t.TempDir(), "hub.db"), null.Logger())
	require.NoError(t, err)
	t.Cleanup(f.store.Close)

	f.hub, err = New(
		WithLogger(f.log),
		WithStore(f.store),
		WithMetrics(f.metrics),
		WithAllowList(func() *thumbprint.AllowList { return allow }))
	require.NoError(t, err)

	f.srv = httptest.NewUnstartedServer(f.hub)
	f.srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverPair.TLS()},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    ca.Pool(),
	}
	f.srv.StartTLS()
	t.Cleanup(f.srv.Close)
	t.Cleanup(f.hub.Close)
	f.url = "wss" + strings.TrimPrefix(f.srv.URL, "https") + schema.EndpointAgentSocket
	return f
}

func (f *fixture) dial(pair *testcert.Pair) (*websocket.Conn, *http.Response, error) {
	cfg := &tls.Config{RootCAs: f.ca.Pool()}
	if pair != nil {
		cfg.Certificates = []tls.Certificate{pair.TLS()}
	}
	d := websocket.Dialer{TLSClientConfig: cfg, HandshakeTimeout: 5 * time.Second}
	return d.Dial(f.url, nil)
}

// connect opens a session for agentID and waits until the hub registered it
func (f *fixture) connect(agentID string) *websocket.Conn {
	f.t.Helper()
	conn, _, err := f.dial(f.agent)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })

	f.write(conn, schema.MsgAgentConnect, "", schema.AgentDescriptor{
		AgentID: agentID, Host: "dc01", Version: "1.0.0", Capabilities: []string{"GetUsers"}})
	require.Eventually(f.t, func() bool { return f.hub.Connected(agentID) }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func (f *fixture) write(conn *websocket.Conn, msgType, jobID string, payload any) {
	f.t.Helper()
	env, err := schema.NewEnvelope(msgType, jobID, payload)
	require.NoError(f.t, err)
	require.NoError(f.t, conn.WriteJSON(env))
}

func (f *fixture) read(conn *websocket.Conn) schema.Envelope {
	f.t.Helper()
	require.NoError(f.t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env schema.Envelope
	require.NoError(f.t, conn.ReadJSON(&env))
	return env
}

func (f *fixture) submit(agentID string) schema.Job {
	f.t.Helper()
	job, err := f.hub.Submit(schema.APIJobSubmitRequest{
		AgentID:       agentID,
		ModuleName:    "GetUsers",
		Parameters:    schema.Parameters{"Filter": "Staff"},
		CorrelationID: "ticket-42",
	}, "operator1")
	require.NoError(f.t, err)
	return job
}

func (f *fixture) waitState(jobID string, state schema.JobState) schema.Job {
	f.t.Helper()
	var job schema.Job
	require.Eventually(f.t, func() bool {
		var err error
		job, err = f.store.GetJob(jobID)
		return err == nil && job.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestNewValidation(t *testing.T) {
	store := &db.DB{}
	allow := WithAllowList(func() *thumbprint.AllowList { return nil })

	_, err := New(WithStore(store), allow)
	assert.Error(t, err)
	_, err = New(WithLogger(null.Logger()), allow)
	assert.Error(t, err)
	_, err = New(WithLogger(null.Logger()), WithStore(store))
	assert.Error(t, err)
	_, err = New(WithLogger(null.Logger()), WithStore(store), allow, WithClock(nil))
	assert.Error(t, err)
}

func TestRejectsWithoutCertificate(t *testing.T) {
	f := newFixture(t)

	_, resp, err := f.dial(nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Len(t, f.log.ByID(EventNoCertificate), 1)
}

func TestRejectsUnknownThumbprint(t *testing.T) {
	f := newFixture(t)

	_, resp, err := f.dial(f.stranger)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Len(t, f.log.ByID(EventNotAllowed), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.rejected.WithLabelValues("thumbprint")))
}

func TestHandshakeRequired(t *testing.T) {
	f := newFixture(t)

	conn, _, err := f.dial(f.agent)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	f.write(conn, schema.MsgPing, "", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Len(t, f.log.ByID(EventHandshake), 1)
	assert.Equal(t, 0, f.hub.ConnectedCount())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.hub.Submit(schema.APIJobSubmitRequest{ModuleName: "GetUsers"}, "op")
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = f.hub.Submit(schema.APIJobSubmitRequest{AgentID: "dc01"}, "op")
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = f.hub.Submit(schema.APIJobSubmitRequest{
		AgentID: "dc01", ModuleName: "GetUsers",
		Parameters: schema.Parameters{"filter": "a", "FILTER": "b"}}, "op")
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = f.hub.Submit(schema.APIJobSubmitRequest{AgentID: "never-seen", ModuleName: "GetUsers"}, "op")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestJobRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("dc01")

	meta, err := f.store.GetAgentMeta("dc01")
	require.NoError(t, err)
	assert.True(t, meta.Connected)
	assert.Equal(t, thumbprint.SHA1(f.agent.Cert), meta.Thumbprint)
	assert.Equal(t, []string{"GetUsers"}, meta.Capabilities)

	job := f.submit("dc01")
	assert.Equal(t, schema.JobCreated, job.State)

	env := f.read(conn)
	require.Equal(t, schema.MsgDispatchJob, env.Type)
	require.Equal(t, job.JobID, env.JobID)
	var d schema.DispatchJob
	require.NoError(t, env.Decode(&d))
	assert.Equal(t, "GetUsers", d.ModuleName)
	assert.Equal(t, "Staff", d.Parameters.Value("Filter"))
	assert.Equal(t, "operator1", d.RequestedBy)
	assert.Equal(t, "ticket-42", d.CorrelationID)

	f.write(conn, schema.MsgProgressUpdate, job.JobID, schema.ProgressUpdate{State: schema.JobRunning, Percent: 10, Message: "running"})
	running := f.waitState(job.JobID, schema.JobRunning)
	assert.NotNil(t, running.StartedAt)

	started := time.Now().Add(-2 * time.Second).UTC()
	f.write(conn, schema.MsgSubmitResult, job.JobID, schema.SubmitResult{
		State:       schema.JobCompleted,
		StartedAt:   started,
		CompletedAt: started.Add(1200 * time.Millisecond),
		DurationMs:  1200,
		Result:      schema.JobResult{Items: []schema.Row{{"SamAccountName": "alice"}}},
	})
	done := f.waitState(job.JobID, schema.JobCompleted)
	assert.Equal(t, int64(1200), done.DurationMs)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	require.Len(t, done.Result.Items, 1)
	assert.Equal(t, "alice", done.Result.Items[0]["SamAccountName"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.jobs.WithLabelValues(string(schema.JobCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.connected))
}

func TestCompletedWithoutRunningUpdate(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("dc01")
	job := f.submit("dc01")
	f.read(conn)

	f.write(conn, schema.MsgSubmitResult, job.JobID, schema.SubmitResult{State: schema.JobCompleted})
	done := f.waitState(job.JobID, schema.JobCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestPendingDispatchedOnConnect(t *testing.T) {
	f := newFixture(t)

	conn := f.connect("dc01")
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !f.hub.Connected("dc01") }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		meta, err := f.store.GetAgentMeta("dc01")
		return err == nil && !meta.Connected
	}, 5*time.Second, 10*time.Millisecond)

	first := f.submit("dc01")
	second := f.submit("dc01")

	conn = f.connect("dc01")
	assert.Equal(t, first.JobID, f.read(conn).JobID)
	assert.Equal(t, second.JobID, f.read(conn).JobID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("dc01")
	job := f.submit("dc01")
	f.read(conn)

	canceled, err := f.hub.Cancel(job.JobID, "operator2")
	require.NoError(t, err)
	assert.Equal(t, schema.JobFailed, canceled.State)

	env := f.read(conn)
	assert.Equal(t, schema.MsgCancelJob, env.Type)
	assert.Equal(t, job.JobID, env.JobID)

	stored, err := f.store.GetJob(job.JobID)
	require.NoError(t, err)
	require.NotNil(t, stored.Result)
	assert.Equal(t, schema.CodeCanceled, stored.Result.Errors.First())

	// A late result from the agent does not resurrect the job
	f.write(conn, schema.MsgSubmitResult, job.JobID, schema.SubmitResult{State: schema.JobCompleted})
	require.Eventually(t, func() bool { return len(f.log.ByID(EventStaleResult)) > 0 }, 5*time.Second, 10*time.Millisecond)
	f.waitState(job.JobID, schema.JobFailed)

	_, err = f.hub.Cancel(job.JobID, "operator2")
	assert.ErrorIs(t, err, ErrJobFinished)
	_, err = f.hub.Cancel("no-such-job", "operator2")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestResultFromOtherAgentRejected(t *testing.T) {
	f := newFixture(t)
	connA := f.connect("dc01")
	connB := f.connect("dc02")
	job := f.submit("dc01")
	f.read(connA)

	f.write(connB, schema.MsgSubmitResult, job.JobID, schema.SubmitResult{State: schema.JobCompleted})
	require.Eventually(t, func() bool { return len(f.log.ByID(EventStaleResult)) > 0 }, 5*time.Second, 10*time.Millisecond)

	stored, err := f.store.GetJob(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, schema.JobCreated, stored.State)
}

func TestReconnectReplacesConnection(t *testing.T) {
	f := newFixture(t)
	old := f.connect("dc01")
	f.connect("dc01")

	require.NoError(t, old.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := old.ReadMessage()
	assert.Error(t, err)
	assert.Len(t, f.log.ByID(EventReplaced), 1)
	assert.Equal(t, 1, f.hub.ConnectedCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.connected))
}

func TestBadMessagesSkipped(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("dc01")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f.write(conn, "mystery", "", nil)
	f.write(conn, schema.MsgSubmitResult, "job-x", schema.SubmitResult{State: schema.JobRunning})

	require.Eventually(t, func() bool { return len(f.log.ByID(EventBadMessage)) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.hub.Connected("dc01"))
}

type echoDispatcher struct{}

func (echoDispatcher) Execute(_ context.Context, req schema.Request, _ *agentglobal.Settings) schema.Response {
	return schema.NewSuccess(req.RequestID, []schema.UserRecord{
		{SamAccountName: req.Parameters.Value("Filter")},
	}, time.Millisecond)
}

func (echoDispatcher) Names() []string { return []string{"GetUsers"} }

func TestAgentWorkerEndToEnd(t *testing.T) {
	f := newFixture(t)

	caFile, _, err := f.ca.WriteFiles(t.TempDir(), "ca")
	require.NoError(t, err)

	s := agentglobal.Defaults().Clone()
	s.BrokerURL = f.url
	s.BrokerCAFile = caFile
	s.AgentID = "dc01"
	s.ReconnectMin = 10 * time.Millisecond
	s.ReconnectMax = 50 * time.Millisecond

	w, err := broker.New(
		broker.WithLogger(null.Logger()),
		broker.WithDispatcher(echoDispatcher{}),
		broker.WithSettings(func() *agentglobal.Settings { return s }),
		broker.WithIdentity(&certstore.Identity{Cert: f.agent.Cert, Key: f.agent.Key}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return f.hub.Connected("dc01") }, 5*time.Second, 10*time.Millisecond)

	job := f.submit("dc01")
	finished := f.waitState(job.JobID, schema.JobCompleted)
	require.NotNil(t, finished.Result)
	require.Len(t, finished.Result.Items, 1)
	assert.Equal(t, "Staff", finished.Result.Items[0]["SamAccountName"])
}
