/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package host

import (
	"bytes"
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/agent/revocation"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/null"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/signing"
	"github.com/UnifyEM/diragent/common/testcert"
	"github.com/UnifyEM/diragent/common/thumbprint"
)

// fakeDispatcher echoes the action name, or blocks until released
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []schema.Request
	block   chan struct{}
	entered chan struct{}
}

func (d *fakeDispatcher) Execute(ctx context.Context, req schema.Request, _ *global.Settings) schema.Response {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		if d.entered != nil {
			d.entered <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return schema.NewFailure(req.RequestID, schema.CodeTimeout, "canceled", 0)
		}
	}
	return schema.NewSuccess(req.RequestID, map[string]string{"Action": req.ActionName}, time.Millisecond)
}

func (d *fakeDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeRevocation struct {
	err error
}

func (f fakeRevocation) Check(context.Context, []*x509.Certificate) error {
	return f.err
}

type fixture struct {
	t        *testing.T
	host     *Host
	ca       *testcert.CA
	client   *testcert.Pair
	settings *global.Settings
	audit    *audit.Memory
	disp     *fakeDispatcher
	log      *null.Recorder
}

func newFixture(t *testing.T, mutate func(*global.Settings), options ...func(*Host) error) *fixture {
	t.Helper()

	ca, err := testcert.NewCA("test ca")
	require.NoError(t, err)
	client, err := ca.Issue(testcert.LeafOptions{CommonName: "inventory", Client: true})
	require.NoError(t, err)

	s := global.Defaults().Clone()
	s.AllowList, err = thumbprint.NewAllowList([]string{thumbprint.SHA1(client.Cert)})
	require.NoError(t, err)
	if mutate != nil {
		mutate(s)
	}

	f := &fixture{
		t:        t,
		ca:       ca,
		client:   client,
		settings: s,
		audit:    &audit.Memory{},
		disp:     &fakeDispatcher{},
		log:      null.NewRecorder(),
	}

	options = append([]func(*Host) error{
		WithLogger(f.log),
		WithDispatcher(f.disp),
		WithAudit(f.audit),
	}, options...)

	f.host, err = New(s, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.host.Stop() })
	return f
}

func (f *fixture) request(action string, params schema.Parameters) schema.Request {
	return f.requestSignedBy(f.client.Key, action, params)
}

func (f *fixture) requestSignedBy(key crypto.Signer, action string, params schema.Parameters) schema.Request {
	req := schema.Request{
		RequestID:            uuid.NewString(),
		ActionName:           action,
		Parameters:           params,
		TimestampUnixSeconds: time.Now().Unix(),
		Nonce:                uuid.NewString(),
	}
	require.NoError(f.t, signing.SignRequest(&req, key))
	return req
}

// do runs one request through the pipeline as if received over mTLS with cert
func (f *fixture) do(cert *x509.Certificate, method, contentType string, body []byte) (*httptest.ResponseRecorder, schema.Response) {
	r := httptest.NewRequest(method, RouteExecute, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.TLS = &tls.ConnectionState{}
	if cert != nil {
		r.TLS.PeerCertificates = []*x509.Certificate{cert}
	}

	w := httptest.NewRecorder()
	f.host.ServeHTTP(w, r)

	var resp schema.Response
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func (f *fixture) send(req schema.Request) (*httptest.ResponseRecorder, schema.Response) {
	body, err := json.Marshal(req)
	require.NoError(f.t, err)
	return f.do(f.client.Cert, http.MethodPost, "application/json", body)
}

func assertHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestNewRequiresLoggerAndDispatcher(t *testing.T) {
	s := global.Defaults()

	_, err := New(s)
	assert.Error(t, err)

	_, err = New(s, WithLogger(null.Logger()))
	assert.Error(t, err)

	_, err = New(nil, WithLogger(null.Logger()), WithDispatcher(&fakeDispatcher{}))
	assert.Error(t, err)
}

func TestSignedRequestDispatched(t *testing.T) {
	f := newFixture(t, nil)

	req := f.request("GetUsers", schema.Parameters{"IncludeDisabled": "false"})
	req.CorrelationID = "batch-7"
	w, resp := f.send(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assertHeaders(t, w)
	assert.Equal(t, schema.StatusSuccess, resp.Status)
	assert.Equal(t, req.RequestID, resp.RequestID)
	require.Equal(t, 1, f.disp.Calls())
	assert.Equal(t, "false", f.disp.calls[0].Parameters.Value("includedisabled"))

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.TransportHTTPS, e.Transport)
	assert.Equal(t, req.RequestID, e.RequestID)
	assert.Equal(t, "batch-7", e.CorrelationID)
	assert.Equal(t, "GetUsers", e.Action)
	assert.Equal(t, thumbprint.SHA1(f.client.Cert), e.Thumbprint)
	assert.Equal(t, http.StatusOK, e.HTTPStatus)
	assert.Equal(t, "Success", e.Status)
	assert.Empty(t, e.ErrorCode)
}

func TestReplayRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request("Ping", nil)

	w, _ := f.send(req)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := f.send(req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, schema.CodeReplayDetected, resp.ErrorCode())
	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.Equal(t, 1, f.disp.Calls())
}

func TestGateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*global.Settings)
		run    func(f *fixture) (*httptest.ResponseRecorder, schema.Response)
		status int
		code   string
	}{
		{
			name: "method",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				return f.do(f.client.Cert, http.MethodGet, "application/json", nil)
			},
			status: http.StatusMethodNotAllowed,
			code:   schema.CodeMethodNotAllowed,
		},
		{
			name: "content type",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				body, _ := json.Marshal(f.request("Ping", nil))
				return f.do(f.client.Cert, http.MethodPost, "text/plain", body)
			},
			status: http.StatusUnsupportedMediaType,
			code:   schema.CodeUnsupportedMedia,
		},
		{
			name:   "too large",
			mutate: func(s *global.Settings) { s.MaxRequestBytes = 128 },
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				return f.do(f.client.Cert, http.MethodPost, "application/json", bytes.Repeat([]byte(" "), 129))
			},
			status: http.StatusRequestEntityTooLarge,
			code:   schema.CodePayloadTooLarge,
		},
		{
			name: "no certificate",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				body, _ := json.Marshal(f.request("Ping", nil))
				return f.do(nil, http.MethodPost, "application/json", body)
			},
			status: http.StatusForbidden,
			code:   schema.CodeClientCertificate,
		},
		{
			name: "thumbprint not allowed",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				other, err := f.ca.Issue(testcert.LeafOptions{CommonName: "stranger", Client: true})
				require.NoError(f.t, err)
				body, _ := json.Marshal(f.requestSignedBy(other.Key, "Ping", nil))
				return f.do(other.Cert, http.MethodPost, "application/json", body)
			},
			status: http.StatusForbidden,
			code:   schema.CodeClientCertificate,
		},
		{
			name: "malformed",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				return f.do(f.client.Cert, http.MethodPost, "application/json", []byte("{not json"))
			},
			status: http.StatusBadRequest,
			code:   schema.CodeMalformedRequest,
		},
		{
			name: "missing action",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				return f.send(f.request("", nil))
			},
			status: http.StatusBadRequest,
			code:   schema.CodeMalformedRequest,
		},
		{
			name: "missing nonce",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				req := f.request("Ping", nil)
				req.Nonce = ""
				return f.send(req)
			},
			status: http.StatusBadRequest,
			code:   schema.CodeMissingReplayFields,
		},
		{
			name: "expired",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				req := f.request("Ping", nil)
				req.TimestampUnixSeconds = time.Now().Add(-10 * time.Minute).Unix()
				require.NoError(f.t, signing.SignRequest(&req, f.client.Key))
				return f.send(req)
			},
			status: http.StatusBadRequest,
			code:   schema.CodeRequestExpired,
		},
		{
			name: "future timestamp",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				req := f.request("Ping", nil)
				req.TimestampUnixSeconds = time.Now().Add(10 * time.Minute).Unix()
				require.NoError(f.t, signing.SignRequest(&req, f.client.Key))
				return f.send(req)
			},
			status: http.StatusBadRequest,
			code:   schema.CodeRequestExpired,
		},
		{
			name: "tampered",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				req := f.request("GetUsers", schema.Parameters{"IncludeDisabled": "false"})
				req.Parameters["IncludeDisabled"] = "true"
				return f.send(req)
			},
			status: http.StatusForbidden,
			code:   schema.CodeSignatureInvalid,
		},
		{
			name: "unsigned",
			run: func(f *fixture) (*httptest.ResponseRecorder, schema.Response) {
				req := f.request("Ping", nil)
				req.Signature = ""
				return f.send(req)
			},
			status: http.StatusForbidden,
			code:   schema.CodeSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			w, resp := tt.run(f)

			assert.Equal(t, tt.status, w.Code)
			assertHeaders(t, w)
			assert.Equal(t, schema.StatusFailed, resp.Status)
			assert.Equal(t, tt.code, resp.ErrorCode())
			assert.Equal(t, 0, f.disp.Calls())

			entries := f.audit.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.status, entries[0].HTTPStatus)
			assert.Equal(t, tt.code, entries[0].ErrorCode)
		})
	}
}

func TestEarlyRejectionHasNoRequestID(t *testing.T) {
	f := newFixture(t, nil)
	w, resp := f.do(f.client.Cert, http.MethodPut, "application/json", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	assert.Empty(t, resp.RequestID)
	assert.Zero(t, resp.DurationMs)
}

func TestPlainHTTPRejected(t *testing.T) {
	f := newFixture(t, nil)

	body, err := json.Marshal(f.request("Ping", nil))
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, RouteExecute, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.host.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), schema.CodeTLSRequired)
	assert.Len(t, f.audit.Entries(), 1)
}

func TestChunkedBodyLimited(t *testing.T) {
	f := newFixture(t, func(s *global.Settings) { s.MaxRequestBytes = 64 })

	r := httptest.NewRequest(http.MethodPost, RouteExecute, strings.NewReader(strings.Repeat("x", 200)))
	r.ContentLength = -1
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{f.client.Cert}}
	w := httptest.NewRecorder()
	f.host.ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), schema.CodePayloadTooLarge)
}

func TestUnsignedAllowedWhenNotRequired(t *testing.T) {
	f := newFixture(t, func(s *global.Settings) { s.RequireSignedRequests = false })
	req := f.request("Ping", nil)
	req.Signature = ""

	w, _ := f.send(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, func(s *global.Settings) { s.MaxRequestsPerMinute = 2 })

	for i := 0; i < 2; i++ {
		w, _ := f.send(f.request("Ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := f.send(f.request("Ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, schema.CodeRateLimited, resp.ErrorCode())
	assert.Equal(t, 2, f.disp.Calls())
}

func TestClientChainVerified(t *testing.T) {
	other, err := testcert.NewCA("other ca")
	require.NoError(t, err)

	f := newFixture(t, func(s *global.Settings) {
		dir := t.TempDir()
		certFile, _, err := other.WriteFiles(dir, "ca")
		require.NoError(t, err)
		s.ClientCAFile = certFile
	})

	w, resp := f.send(f.request("Ping", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, schema.CodeClientCertificate, resp.ErrorCode())
}

func TestRevocation(t *testing.T) {
	undetermined := fakeRevocation{err: revocation.ErrUndetermined}
	revoked := fakeRevocation{err: revocation.ErrRevoked}

	t.Run("enforced", func(t *testing.T) {
		f := newFixture(t, func(s *global.Settings) { s.EnforceRevocationCheck = true },
			WithRevocationChecker(undetermined))
		w, resp := f.send(f.request("Ping", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, schema.CodeClientCertificate, resp.ErrorCode())
		assert.NotEmpty(t, f.log.ByID(EventRevocation))
	})

	t.Run("fail open", func(t *testing.T) {
		f := newFixture(t, func(s *global.Settings) {
			s.EnforceRevocationCheck = true
			s.FailOpenOnRevocation = true
		}, WithRevocationChecker(undetermined))
		w, _ := f.send(f.request("Ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		// once at startup and once for the admitted request
		assert.Len(t, f.log.ByID(EventFailOpen), 2)
	})

	t.Run("revoked is never admitted", func(t *testing.T) {
		f := newFixture(t, func(s *global.Settings) {
			s.EnforceRevocationCheck = true
			s.FailOpenOnRevocation = true
		}, WithRevocationChecker(revoked))
		w, _ := f.send(f.request("Ping", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("not enforced", func(t *testing.T) {
		f := newFixture(t, nil, WithRevocationChecker(revoked))
		w, _ := f.send(f.request("Ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAbandonedWaitReleasesNothing(t *testing.T) {
	f := newFixture(t, func(s *global.Settings) { s.MaxConcurrentRequests = 1 })
	f.disp.block = make(chan struct{})
	f.disp.entered = make(chan struct{}, 1)

	done := make(chan int)
	go func() {
		w, _ := f.send(f.request("Ping", nil))
		done <- w.Code
	}()
	<-f.disp.entered

	// The only slot is held, so this request waits and is then abandoned
	body, err := json.Marshal(f.request("Ping", nil))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodPost, RouteExecute, bytes.NewReader(body)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{f.client.Cert}}

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		f.host.ServeHTTP(httptest.NewRecorder(), r)
	})

	close(f.disp.block)
	assert.Equal(t, http.StatusOK, <-done)

	// The slot is free again
	w, _ := f.send(f.request("Ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var aborted int
	for _, e := range f.audit.Entries() {
		if e.Status == "Aborted" {
			aborted++
			assert.Equal(t, schema.CodeCanceled, e.ErrorCode)
		}
	}
	assert.Equal(t, 1, aborted)
	assert.Len(t, f.audit.Entries(), 3)
}

func TestStopCancelsInFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.disp.block = make(chan struct{})
	f.disp.entered = make(chan struct{}, 1)

	done := make(chan schema.Response)
	go func() {
		_, resp := f.send(f.request("Ping", nil))
		done <- resp
	}()
	<-f.disp.entered

	require.NoError(t, f.host.Stop())
	resp := <-done
	assert.Equal(t, schema.CodeTimeout, resp.ErrorCode())
}

func TestUpdatePolicy(t *testing.T) {
	f := newFixture(t, nil)

	w, _ := f.send(f.request("Ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	next := f.settings.Clone()
	var err error
	next.AllowList, err = thumbprint.NewAllowList(nil)
	require.NoError(t, err)
	require.NoError(t, f.host.UpdatePolicy(next))

	assert.Same(t, next, f.host.Settings())
	assert.NotEmpty(t, f.log.ByID(EventPolicyUpdated))
	assert.NotEmpty(t, f.log.ByID(EventEmptyAllowList))

	w, resp := f.send(f.request("Ping", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, schema.CodeClientCertificate, resp.ErrorCode())
}

func TestUpdatePolicyKeepsPreviousOnError(t *testing.T) {
	f := newFixture(t, nil)

	bad := f.settings.Clone()
	bad.ClientCAFile = "/nonexistent/ca.pem"
	assert.Error(t, f.host.UpdatePolicy(bad))
	assert.Same(t, f.settings, f.host.Settings())
	assert.NotEmpty(t, f.log.ByID(EventPolicyRejected))

	assert.Error(t, f.host.UpdatePolicy(nil))
}

func TestUpdatePolicyKeepsLimiterState(t *testing.T) {
	f := newFixture(t, func(s *global.Settings) { s.MaxRequestsPerMinute = 1 })

	w, _ := f.send(f.request("Ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	next := f.settings.Clone()
	next.RequireSignedRequests = false
	require.NoError(t, f.host.UpdatePolicy(next))

	w, _ = f.send(f.request("Ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestServeOverMutualTLS(t *testing.T) {
	ca, err := testcert.NewCA("server ca")
	require.NoError(t, err)
	server, err := ca.Issue(testcert.LeafOptions{CommonName: "agent", Server: true})
	require.NoError(t, err)

	f := newFixture(t, func(s *global.Settings) { s.Listen = "127.0.0.1:0" },
		WithIdentity(&certstore.Identity{Cert: server.Cert, Key: server.Key}))

	errCh := make(chan error, 1)
	go func() { errCh <- f.host.Start() }()
	require.Eventually(t, func() bool { return f.host.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:      ca.Pool(),
			Certificates: []tls.Certificate{f.client.TLS()},
			MinVersion:   tls.VersionTLS12,
		}},
	}

	body, err := json.Marshal(f.request("Ping", nil))
	require.NoError(t, err)
	res, err := client.Post("https://"+f.host.Addr()+RouteExecute, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "no-store", res.Header.Get("Cache-Control"))

	var resp schema.Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, schema.StatusSuccess, resp.Status)

	require.NoError(t, f.host.Stop())
	select {
	case err = <-errCh:
		assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStartRequiresIdentity(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.host.Start())
}
