//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/userver"
	"github.com/UnifyEM/diragent/server/db"
	"github.com/UnifyEM/diragent/server/global"
	"github.com/UnifyEM/diragent/server/hub"
)

//goland:noinspection ALL
const (
	EventStarting     = 5001
	EventStopped      = 5002
	EventServerError  = 5003
	EventTLSError     = 5004
	EventNoAgentCA    = 5005
	EventJobSubmitted = 5010
	EventJobRejected  = 5011
	EventJobCanceled  = 5012
	EventBadRequest   = 5013
	EventStoreError   = 5014
	EventJobRead      = 5015
	EventAgentsRead   = 5016
	EventAuthMissing  = 5031
	EventAuthFormat   = 5032
	EventAuthToken    = 5033
	EventAuthAdminIP  = 5034
	EventAuthSuccess  = 5035
	EventAuthRole     = 5036
)

// serverSEid is the first event id used by userver
const serverSEid = 5500

// retryDelay is the pause between restarts after a listener failure
const retryDelay = 10 * time.Second

// API is the operator facing HTTPS surface of the broker. It also carries
// the agent websocket endpoint so that both share one listener.
type API struct {
	logger   interfaces.Logger
	settings *global.Settings
	store    *db.DB
	hub      *hub.Hub
	tokens   *Tokens
	metrics  *hub.Metrics
	identity *certstore.Identity
	mu       sync.Mutex
	server   *userver.HServer
}

func New(options ...func(*API) error) (*API, error) {
	a := &API{}
	for _, option := range options {
		if err := option(a); err != nil {
			return nil, err
		}
	}

	if a.logger == nil {
		return nil, errors.New("logger is required")
	}
	if a.settings == nil {
		return nil, errors.New("settings are required")
	}
	if a.store == nil {
		return nil, errors.New("store is required")
	}
	if a.hub == nil {
		return nil, errors.New("hub is required")
	}

	if a.tokens == nil {
		t, err := NewTokens(a.settings.JWTKey, a.settings.AccessTokenLife, nil)
		if err != nil {
			return nil, err
		}
		a.tokens = t
	}
	return a, nil
}

func WithLogger(logger interfaces.Logger) func(*API) error {
	return func(a *API) error {
		a.logger = logger
		return nil
	}
}

func WithSettings(s *global.Settings) func(*API) error {
	return func(a *API) error {
		a.settings = s
		return nil
	}
}

func WithStore(store *db.DB) func(*API) error {
	return func(a *API) error {
		a.store = store
		return nil
	}
}

func WithHub(h *hub.Hub) func(*API) error {
	return func(a *API) error {
		a.hub = h
		return nil
	}
}

func WithTokens(t *Tokens) func(*API) error {
	return func(a *API) error {
		a.tokens = t
		return nil
	}
}

// WithMetrics exposes the registry on /metrics when enabled in settings
func WithMetrics(m *hub.Metrics) func(*API) error {
	return func(a *API) error {
		a.metrics = m
		return nil
	}
}

// WithIdentity sets the server certificate instead of loading it from settings
func WithIdentity(id *certstore.Identity) func(*API) error {
	return func(a *API) error {
		a.identity = id
		return nil
	}
}

// Run serves until ctx is canceled, restarting after listener failures
func (a *API) Run(ctx context.Context) {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-stopped:
		}
	}()

	for {
		a.logger.Info(EventStarting, "starting API", fields.NewFields(
			fields.NewField("listen", a.settings.Listen)))
		err := a.Start()
		if err == nil || ctx.Err() != nil {
			a.logger.Info(EventStopped, "API stopped", nil)
			return
		}
		a.logger.Error(EventServerError, fmt.Sprintf("API error: %s", err.Error()), nil)

		// Sleep before trying again
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// Start serves HTTPS and blocks until Stop
func (a *API) Start() error {
	tlsConfig, err := a.TLSConfig()
	if err != nil {
		a.logger.Error(EventTLSError, "TLS configuration error", fields.NewFields(
			fields.NewField("error", err.Error())))
		return err
	}

	s, err := a.newServer(
		userver.WithListen(a.settings.Listen),
		userver.WithTLS(true),
		userver.WithTLSConfig(tlsConfig),
		userver.WithTLSStrongCiphers(true))
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.server = s
	a.mu.Unlock()

	err = s.Start()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down
func (a *API) Stop() {
	a.mu.Lock()
	s := a.server
	a.server = nil
	a.mu.Unlock()
	if s != nil {
		_ = s.Stop()
	}
}

// Handler returns the routed handler without a listener
func (a *API) Handler() (http.Handler, error) {
	s, err := a.newServer()
	if err != nil {
		return nil, err
	}
	return s.Handler()
}

// TLSConfig presents the broker identity. Agents must present a certificate
// issued by agent_ca_file when one is configured; operators authenticate
// with a bearer token and need no certificate.
func (a *API) TLSConfig() (*tls.Config, error) {
	id := a.identity
	if id == nil {
		var err error
		id, err = certstore.Load(a.settings.TLSCertFile, a.settings.TLSKeyFile,
			a.settings.TLSPFXFile, a.settings.TLSPFXPassword)
		if err != nil {
			return nil, fmt.Errorf("server identity: %w", err)
		}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{id.TLS()},
		MinVersion:   tls.VersionTLS12,
	}

	if a.settings.AgentCAFile == "" {
		a.logger.Warning(EventNoAgentCA, "no agent CA configured, agent certificates are matched by thumbprint only", nil)
		cfg.ClientAuth = tls.RequestClientCert
		return cfg, nil
	}

	pool, err := certstore.LoadPool(a.settings.AgentCAFile)
	if err != nil {
		return nil, fmt.Errorf("agent CA: %w", err)
	}
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	cfg.ClientCAs = pool
	return cfg, nil
}

func (a *API) newServer(options ...func(*userver.HServer) error) (*userver.HServer, error) {
	st := a.settings
	base := []func(*userver.HServer) error{
		userver.WithLogger(a.logger),
		userver.WithSEid(serverSEid),
		userver.WithHTTPTimeout(st.HTTPTimeout),
		userver.WithHTTPIdleTimeout(st.HTTPIdleTimeout),
		userver.WithHandlerTimeout(st.HandlerTimeout),
		userver.WithMaxConcurrent(st.MaxConcurrent),
		userver.WithPenaltyBox(st.PenaltyBoxMin, st.PenaltyBoxMax),
		userver.WithTrustedProxies(st.TrustedProxies),
		userver.WithHealthHandler(true),
		userver.WithAuthFunc(a.NewAuthFunc(schema.RolesAll)),
		userver.WithDebug(st.Debug),
	}

	s, err := userver.New(append(base, options...)...)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("userver.New() returned nil")
	}

	s.AddRoute(userver.Route{
		Name:    "agentSocket",
		Methods: []string{"GET"},
		Pattern: schema.EndpointAgentSocket,
		Handler: a.hub,
		Direct:  true})

	s.AddRoute(userver.Route{
		Name:     "jobs",
		Methods:  []string{"POST"},
		Pattern:  schema.EndpointJobs,
		JHandler: a.postJob,
		AuthFunc: a.NewAuthFunc(schema.RolesSubmit)})

	s.AddRoute(userver.Route{
		Name:     "jobs",
		Methods:  []string{"GET"},
		Pattern:  schema.EndpointJobs,
		JHandler: a.getJobs,
		AuthFunc: a.NewAuthFunc(schema.RolesAll)})

	s.AddRoute(userver.Route{
		Name:     "job",
		Methods:  []string{"GET"},
		Pattern:  schema.EndpointJob,
		JHandler: a.getJob,
		AuthFunc: a.NewAuthFunc(schema.RolesAll)})

	s.AddRoute(userver.Route{
		Name:     "jobCancel",
		Methods:  []string{"POST"},
		Pattern:  schema.EndpointJobCancel,
		JHandler: a.postCancel,
		AuthFunc: a.NewAuthFunc(schema.RolesSubmit)})

	s.AddRoute(userver.Route{
		Name:     "agents",
		Methods:  []string{"GET"},
		Pattern:  schema.EndpointAgents,
		JHandler: a.getAgents,
		AuthFunc: a.NewAuthFunc(schema.RolesAll)})

	if st.Metrics && a.metrics != nil {
		s.AddRoute(userver.Route{
			Name:     "metrics",
			Methods:  []string{"GET"},
			Pattern:  schema.EndpointMetrics,
			Handler:  a.metrics.Handler(),
			AuthFunc: a.NewAuthFunc(schema.RolesAll)})
	}

	return s, nil
}
