/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// HServer holds the listener settings and the route table. Fields are set
// through options before Start and must not change afterwards.
type HServer struct {
	Listen         string
	Routes         Routes
	Headers        Headers
	AuthFunc       AuthFunc // for the 404 and 405 handlers
	HealthHandler  bool
	DefaultHeaders bool
	Debug          bool

	// Limits, timeouts in seconds and penalty box in milliseconds
	HTTPTimeout     int
	HTTPIdleTimeout int
	HandlerTimeout  int
	MaxConcurrent   int
	PenaltyBoxMin   int
	PenaltyBoxMax   int

	// Peers whose X-Forwarded-For is believed
	TrustedProxies []netip.Prefix

	TLS              bool
	TLSConfig        *tls.Config
	TLSStrongCiphers bool

	Logger interfaces.Logger
	SEid   uint32 // base event id

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	draining atomic.Bool
}

// AuthFunc receives the client address and the Authorization header. On
// failure the returned bytes, if any, are sent as the 401 body. On success
// the value is attached to the request context (see AuthDetailsFrom).
type AuthFunc func(remoteIP string, authorization string) (bool, []byte, any)

// AuthDetails is implemented by values an AuthFunc attaches
type AuthDetails interface {
	IsAuthenticated() bool
}

// Route maps a pattern to either a plain Handler or a JHandler
type Route struct {
	Name     string
	Methods  []string // empty matches any method
	Pattern  string
	Handler  http.Handler
	JHandler JHandler
	AuthFunc AuthFunc
	Direct   bool // skip the access log and auth wrapper
}

type Routes []Route

type Header struct {
	Key   string
	Value string
}

type Headers []Header

// Response is the envelope used by the built-in handlers
type Response struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JHandler returns a value for JWrapper to encode
type JHandler func(req *http.Request) JResponse

type JResponse struct {
	HTTPCode int
	JSONData any
}
