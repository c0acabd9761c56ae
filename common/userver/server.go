/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package userver implements a production grade HTTP server using the
// standard Go libraries and gorilla/mux. It provides a simple way to create
// a server with a set of routes and handlers. Each handler can be either
// a traditional http.Handler or a customer JHandler that returns an
// object that can be marshalled to JSON.
package userver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/gorilla/mux"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/ulogger"
)

// New returns a HServer struct with default values and options applied
func New(options ...func(*HServer) error) (*HServer, error) {
	s := &HServer{
		Listen:           "127.0.0.1:8080",
		HTTPTimeout:      60,
		HTTPIdleTimeout:  60,
		HandlerTimeout:   60,
		MaxConcurrent:    100,
		HealthHandler:    true,
		DefaultHeaders:   true,
		TLSStrongCiphers: true,
	}

	// Process options (see options.go)
	for _, op := range options {
		err := op(s)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler builds the router from the registered routes. Start calls it,
// tests may serve it directly.
func (s *HServer) Handler() (http.Handler, error) {
	if s.Logger == nil {
		l, err := ulogger.New(
			ulogger.WithLogStdout(true),
			ulogger.WithRetention(0),
			ulogger.WithDebug(s.Debug))
		if err != nil {
			return nil, err
		}
		s.Logger = l
	}

	// Add default headers if requested
	if s.DefaultHeaders && len(s.Headers) == 0 {
		s.AddHeader("Cache-Control", "no-cache, no-store, must-revalidate")
		s.AddHeader("Pragma", "no-cache")
		s.AddHeader("Expires", "0")
	}

	routes := s.Routes
	if s.HealthHandler {
		routes = append(routes, Route{
			Name:     "health",
			Methods:  []string{"GET"},
			Pattern:  "/health",
			JHandler: s.HandlerHealth,
		})
	}

	router := mux.NewRouter()

	for _, route := range routes {
		var handler http.Handler
		switch {
		case route.JHandler != nil:
			handler = s.JWrapper(route.Name, route.JHandler)
		case route.Handler != nil:
			handler = route.Handler
		default:
			continue
		}

		// Direct routes log on their own and skip the access log
		if !route.Direct {
			handler = s.Wrapper(route.Name, handler, route.AuthFunc)
		}

		r := router.Handle(route.Pattern, handler)

		// An empty method list means any method. mux treats Methods() with
		// no arguments as matching nothing.
		if len(route.Methods) > 0 {
			r.Methods(route.Methods...)
		}
	}

	// Add catch all and not found handler
	router.NotFoundHandler = s.Wrapper("Handler404", s.JWrapper("Handler404", s.Handler404), s.AuthFunc)
	router.MethodNotAllowedHandler = s.Wrapper("Handler405", s.JWrapper("Handler405", s.Handler405), s.AuthFunc)

	return s.withClientIP(router), nil
}

// TLSConfiguration returns the effective TLS configuration, or nil when TLS is off
func (s *HServer) TLSConfiguration() (*tls.Config, error) {
	if !s.TLS {
		return nil, nil
	}

	if s.TLSConfig == nil {
		return nil, errors.New("TLS is enabled without a TLS configuration")
	}
	tlsConfig := s.TLSConfig.Clone()

	if tlsConfig.MinVersion < tls.VersionTLS12 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	if s.TLSStrongCiphers && tlsConfig.CipherSuites == nil {
		tlsConfig.CipherSuites = []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		}
	}
	return tlsConfig, nil
}

// Start starts the server and blocks until it stops. After Stop it
// returns http.ErrServerClosed.
func (s *HServer) Start() error {
	router, err := s.Handler()
	if err != nil {
		return err
	}

	s.Logger.Info(s.SEid+1,
		"Starting server", fields.NewFields(
			fields.NewField("listen", s.Listen),
			fields.NewField("tls", s.TLS)))

	// Create server
	serv := &http.Server{
		Addr:              s.Listen,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(s.HTTPTimeout) * time.Second,
		ReadTimeout:       time.Duration(s.HTTPTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.HTTPTimeout) * time.Second,
		IdleTimeout:       time.Duration(s.HTTPIdleTimeout) * time.Second,
	}

	serv.TLSConfig, err = s.TLSConfiguration()
	if err != nil {
		return err
	}

	// Start our customized server
	return s.listen(serv)
}

// Stop gives in-flight requests up to ten seconds to finish
func (s *HServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting connections and waits for handlers until ctx ends
func (s *HServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	// Protect against nil server
	if server == nil {
		return errors.New("server is not running")
	}
	s.draining.Store(true)

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Addr returns the bound listener address once Start is running
func (s *HServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// AddRoutes adds routes to the router
func (s *HServer) AddRoutes(routes Routes) {
	for _, route := range routes {
		s.AddRoute(route)
	}
}

// AddRoute adds a route to the router
func (s *HServer) AddRoute(route Route) {
	s.Routes = append(s.Routes, route)
}

// AddHeader adds a header to the list
func (s *HServer) AddHeader(key, value string) {
	s.Headers = append(s.Headers, Header{key, value})
}

// listen is a replacement for ListenAndServe that implements a concurrent session limit
// using netutil.LimitListener. If maxConcurrent is 0, no limit is imposed.
func (s *HServer) listen(server *http.Server) error {

	// Get listen address, default to ":http"
	addr := server.Addr
	if addr == "" {
		addr = ":http"
	}

	// Create listener
	rawListener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	// Store the server to allow for a graceful shutdown
	s.mu.Lock()
	s.server = server
	s.addr = rawListener.Addr()
	s.mu.Unlock()

	// If maxConcurrent > 0 wrap the listener with a limited listener
	var listener net.Listener
	if s.MaxConcurrent > 0 {
		listener = netutil.LimitListener(rawListener, s.MaxConcurrent)
	} else {
		listener = rawListener
	}

	// Start TLS or non-TLS listener
	if server.TLSConfig != nil {
		// This will use the previously configured TLS information
		return server.ServeTLS(listener, "", "")
	}
	return server.Serve(listener)
}
