/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package host is the HTTPS front end of the agent. Every request passes
// the admission gates in order and stops at the first one that fails; only
// fully admitted requests reach the action registry.
package host

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/agent/metrics"
	"github.com/UnifyEM/diragent/agent/revocation"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/nonce"
	"github.com/UnifyEM/diragent/common/ratelimit"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/userver"
)

// Event ids
const (
	EventPolicyUpdated  = 3002
	EventPolicyRejected = 3003
	EventFailOpen       = 3004
	EventAborted        = 3005
	EventPanic          = 3006
	EventEmptyAllowList = 3007
	EventStarting       = 3008
	EventRevocation     = 3009
	EventWrite          = 3010
	EventRestartNeeded  = 3011

	// userver events start here
	serverSEid = 3500
)

// Routes served by the host
const (
	RouteExecute = schema.EndpointExecute
	RouteRoot    = "/"
)

// Dispatcher runs an admitted request. *actions.Registry implements it.
type Dispatcher interface {
	Execute(ctx context.Context, req schema.Request, settings *global.Settings) schema.Response
}

// RevocationChecker reports whether a presented chain is still trusted
type RevocationChecker interface {
	Check(ctx context.Context, chain []*x509.Certificate) error
}

// policy is everything a request needs from the configuration. A request
// loads the pointer once and uses that snapshot throughout.
type policy struct {
	settings   *global.Settings
	clientCAs  *x509.CertPool
	limiter    *ratelimit.Limiter
	sem        *semaphore.Weighted
	revocation RevocationChecker
}

type Host struct {
	logger     interfaces.Logger
	dispatcher Dispatcher
	audit      audit.Sink
	metrics    *metrics.Metrics
	clock      clock.Clock
	identity   *certstore.Identity
	revocation RevocationChecker // fixed checker, replaces the built one
	nonces     *nonce.Cache
	policy     atomic.Pointer[policy]
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	server     *userver.HServer
}

//goland:noinspection DuplicatedCode
func New(settings *global.Settings, options ...func(*Host) error) (*Host, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}

	h := &Host{
		audit: audit.Discard{},
		clock: clock.Real(),
	}

	for _, option := range options {
		err := option(h)
		if err != nil {
			return nil, err
		}
	}

	// Check for mandatory fields
	if h.logger == nil {
		return nil, errors.New("logger is required")
	}
	if h.dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.nonces = nonce.New(settings.ReplayWindow, nonce.WithClock(h.clock))

	p, err := h.buildPolicy(settings, nil)
	if err != nil {
		return nil, err
	}
	h.policy.Store(p)
	h.warnPolicy(settings)

	// Duplicate registration only happens when two hosts share a registry
	_ = h.metrics.GaugeFunc("nonce_cache_entries", "Nonces currently remembered.",
		func() float64 { return float64(h.nonces.Len()) })
	_ = h.metrics.GaugeFunc("rate_limit_identities", "Client identities with a rate limit bucket.",
		func() float64 { return float64(h.policy.Load().limiter.Identities()) })

	return h, nil
}

func WithLogger(logger interfaces.Logger) func(*Host) error {
	return func(h *Host) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		h.logger = logger
		return nil
	}
}

func WithDispatcher(d Dispatcher) func(*Host) error {
	return func(h *Host) error {
		if d == nil {
			return errors.New("dispatcher is nil")
		}
		h.dispatcher = d
		return nil
	}
}

func WithAudit(sink audit.Sink) func(*Host) error {
	return func(h *Host) error {
		if sink != nil {
			h.audit = sink
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) func(*Host) error {
	return func(h *Host) error {
		h.metrics = m
		return nil
	}
}

func WithClock(c clock.Clock) func(*Host) error {
	return func(h *Host) error {
		if c != nil {
			h.clock = c
		}
		return nil
	}
}

// WithIdentity sets the server certificate used by Start
func WithIdentity(id *certstore.Identity) func(*Host) error {
	return func(h *Host) error {
		h.identity = id
		return nil
	}
}

// WithRevocationChecker replaces the OCSP/CRL checker built from settings
func WithRevocationChecker(c RevocationChecker) func(*Host) error {
	return func(h *Host) error {
		h.revocation = c
		return nil
	}
}

// buildPolicy derives a policy from settings, reusing limiter state from
// prev when the limit is unchanged
func (h *Host) buildPolicy(s *global.Settings, prev *policy) (*policy, error) {
	p := &policy{settings: s}

	if s.ClientCAFile != "" {
		pool, err := certstore.LoadPool(s.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("client CA: %w", err)
		}
		p.clientCAs = pool
	}

	if prev != nil && prev.limiter.Max() == s.MaxRequestsPerMinute {
		p.limiter = prev.limiter
	} else {
		p.limiter = ratelimit.PerMinute(s.MaxRequestsPerMinute, ratelimit.WithClock(h.clock))
	}

	slots := s.MaxConcurrentRequests
	if slots < 1 {
		slots = 1
	}
	if prev != nil && prev.settings.MaxConcurrentRequests == s.MaxConcurrentRequests {
		p.sem = prev.sem
	} else {
		p.sem = semaphore.NewWeighted(int64(slots))
	}

	switch {
	case h.revocation != nil:
		p.revocation = h.revocation
	case s.EnforceRevocationCheck:
		checker, err := revocation.New(
			revocation.WithRoots(p.clientCAs),
			revocation.WithTimeout(s.RevocationTimeout),
			revocation.WithCRLCache(s.CRLCacheTTL),
			revocation.WithLogger(h.logger))
		if err != nil {
			return nil, err
		}
		p.revocation = checker
	}
	return p, nil
}

// UpdatePolicy swaps in new settings for subsequent requests. Requests in
// flight finish under the policy they started with. On error the previous
// policy stays in force.
func (h *Host) UpdatePolicy(s *global.Settings) error {
	if s == nil {
		return errors.New("settings are nil")
	}
	prev := h.policy.Load()
	p, err := h.buildPolicy(s, prev)
	if err != nil {
		h.logger.Error(EventPolicyRejected, "policy update rejected, previous policy kept",
			fields.NewFields(fields.NewField("error", err.Error())))
		return err
	}

	h.nonces.SetWindow(s.ReplayWindow)
	h.policy.Store(p)

	if s.Listen != prev.settings.Listen || s.MaxConnections != prev.settings.MaxConnections ||
		s.TLSCertFile != prev.settings.TLSCertFile || s.TLSPFXFile != prev.settings.TLSPFXFile {
		h.logger.Warning(EventRestartNeeded, "listener settings changed and take effect after a restart", nil)
	}

	h.logger.Info(EventPolicyUpdated, "policy updated", fields.NewFields(
		fields.NewField("allowed_clients", s.AllowList.Len()),
		fields.NewField("require_signed", s.RequireSignedRequests),
		fields.NewField("max_requests_per_minute", s.MaxRequestsPerMinute),
		fields.NewField("max_concurrent_requests", s.MaxConcurrentRequests),
		fields.NewField("enforce_revocation", s.EnforceRevocationCheck),
		fields.NewField("fail_open_on_revocation", s.FailOpenOnRevocation)))
	h.warnPolicy(s)
	return nil
}

// Settings returns the settings currently in force
func (h *Host) Settings() *global.Settings {
	return h.policy.Load().settings
}

func (h *Host) warnPolicy(s *global.Settings) {
	if s.AllowList.Len() == 0 {
		h.logger.Warning(EventEmptyAllowList, "no client thumbprints are allowed, every request will be rejected", nil)
	}
	if s.EnforceRevocationCheck && s.FailOpenOnRevocation {
		h.logger.Warning(EventFailOpen, "revocation failures will be ignored (fail_open_on_revocation)", nil)
	}
}

// Handler returns the request pipeline as an http.Handler
func (h *Host) Handler() http.Handler {
	return h
}

// TLSConfig returns the server TLS configuration. Client certificates are
// requested but not verified by the handshake so that the pipeline can
// return a ClientCertificate error instead of a handshake failure.
func (h *Host) TLSConfig() (*tls.Config, error) {
	if h.identity == nil {
		return nil, errors.New("server identity is required")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{h.identity.TLS()},
		ClientAuth:   tls.RequestClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Start serves HTTPS on the configured listen address and blocks until Stop
func (h *Host) Start() error {
	tlsConfig, err := h.TLSConfig()
	if err != nil {
		return err
	}

	s := h.Settings()

	// The write deadline must outlast the slowest admitted request
	budget := int((s.ActionTimeout + s.RevocationTimeout).Seconds()) + 30

	server, err := userver.New(
		userver.WithLogger(h.logger),
		userver.WithListen(s.Listen),
		userver.WithTLS(true),
		userver.WithTLSConfig(tlsConfig),
		userver.WithMaxConcurrent(s.MaxConnections),
		userver.WithHTTPTimeout(budget),
		userver.WithHandlerTimeout(budget),
		userver.WithSEid(serverSEid),
		userver.WithHealthHandler(true),
		userver.WithDefaultHeaders(false),
		userver.WithDebug(s.Debug))
	if err != nil {
		return err
	}

	server.AddRoutes(userver.Routes{
		{Name: "execute", Pattern: RouteExecute, Handler: h, Direct: true},
		{Name: "root", Pattern: RouteRoot, Handler: h, Direct: true},
	})

	h.mu.Lock()
	h.server = server
	h.mu.Unlock()

	h.logger.Info(EventStarting, "agent host starting", fields.NewFields(
		fields.NewField("listen", s.Listen),
		fields.NewField("allowed_clients", s.AllowList.Len()),
		fields.NewField("max_connections", s.MaxConnections)))

	err = server.Start()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop cancels requests waiting for a slot and shuts the listener down
func (h *Host) Stop() error {
	h.cancel()

	h.mu.Lock()
	server := h.server
	h.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Stop()
}

// Addr returns the bound address while Start is running
func (h *Host) Addr() string {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()

	if server == nil || server.Addr() == nil {
		return ""
	}
	return server.Addr().String()
}
