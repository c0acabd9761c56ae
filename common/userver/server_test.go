/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/common/null"
)

func TestRoutes(t *testing.T) {
	rec := null.NewRecorder()
	s, err := New(WithLogger(rec), WithSEid(5500))
	require.NoError(t, err)

	s.AddRoutes(Routes{
		{
			Name:    "direct",
			Pattern: "/direct",
			Direct:  true,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}),
		},
		{
			Name:    "json",
			Methods: []string{"GET"},
			Pattern: "/json",
			JHandler: func(_ *http.Request) JResponse {
				return JResponse{HTTPCode: http.StatusOK, JSONData: Response{Status: "ok", Code: 200}}
			},
		},
	})

	h, err := s.Handler()
	require.NoError(t, err)

	// No method list matches every method
	for _, m := range []string{"GET", "POST", "DELETE"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(m, "/direct", nil))
		assert.Equal(t, http.StatusTeapot, w.Code, m)
	}
	assert.Empty(t, rec.ByID(5510), "direct routes are not access logged")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/json", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	assert.Len(t, rec.ByID(5510), 1)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/json", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthFunc(t *testing.T) {
	s, err := New(WithLogger(null.Logger()))
	require.NoError(t, err)

	s.AddRoute(Route{
		Name:    "secure",
		Methods: []string{"GET"},
		Pattern: "/secure",
		AuthFunc: func(_ string, auth string) (bool, []byte, any) {
			return auth == "Bearer good", []byte(`{"status":"error"}`), "operator"
		},
		JHandler: func(req *http.Request) JResponse {
			return JResponse{HTTPCode: http.StatusOK, JSONData: AuthDetailsFrom(req.Context())}
		},
	})

	h, err := s.Handler()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/secure", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/secure", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "operator")
}

func TestTLSConfiguration(t *testing.T) {
	s, err := New(WithTLS(true))
	require.NoError(t, err)
	_, err = s.TLSConfiguration()
	assert.Error(t, err)

	s, err = New()
	require.NoError(t, err)
	c, err := s.TLSConfiguration()
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestClientIP(t *testing.T) {
	s, err := New(WithLogger(null.Logger()), WithTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"}))
	require.NoError(t, err)

	var seen string
	s.AddRoute(Route{
		Name:    "ip",
		Pattern: "/ip",
		Direct:  true,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			seen = RemoteIP(req)
		}),
	})
	h, err := s.Handler()
	require.NoError(t, err)

	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer ignores header", "203.0.113.9:4000", "1.2.3.4", "203.0.113.9"},
		{"trusted peer", "10.1.1.1:4000", "198.51.100.7", "198.51.100.7"},
		{"spoofed left entry", "10.1.1.1:4000", "1.1.1.1, 198.51.100.7, 192.168.1.5", "198.51.100.7"},
		{"no header", "10.1.1.1:4000", "", "10.1.1.1"},
		{"all trusted", "10.1.1.1:4000", "10.2.2.2", "10.2.2.2"},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", "/ip", nil)
		req.RemoteAddr = c.remote
		if c.xff != "" {
			req.Header.Set("X-Forwarded-For", c.xff)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, c.want, seen, c.name)
	}

	// Outside the middleware only the peer address counts
	req := httptest.NewRequest("GET", "/ip", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "10.1.1.1", RemoteIP(req))
}

func TestParseProxies(t *testing.T) {
	p, err := ParseProxies([]string{" 10.0.0.0/8 ", "", "::ffff:192.168.1.5"})
	require.NoError(t, err)
	require.Len(t, p, 2)
	assert.Equal(t, "192.168.1.5/32", p[1].String())

	_, err = ParseProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestHealthDraining(t *testing.T) {
	s, err := New(WithLogger(null.Logger()))
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)

	s.draining.Store(true)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
}

func TestOptionValidation(t *testing.T) {
	bad := []func(*HServer) error{
		WithHTTPTimeout(-1),
		WithHTTPIdleTimeout(-1),
		WithHandlerTimeout(0),
		WithPenaltyBox(10, 5),
		WithPenaltyBox(-1, 5),
		WithMaxConcurrent(-1),
		WithTrustedProxies([]string{"10.0.0.0/40"}),
	}
	for i, op := range bad {
		_, err := New(op)
		assert.Error(t, err, i)
	}

	s, err := New(WithPenaltyBox(0, 0), WithMaxConcurrent(0))
	require.NoError(t, err)
	assert.Equal(t, 0, s.MaxConcurrent)
}

func TestJWrapperFailures(t *testing.T) {
	rec := null.NewRecorder()
	s, err := New(WithLogger(rec), WithSEid(5500))
	require.NoError(t, err)

	s.AddRoutes(Routes{
		{Name: "panic", Pattern: "/panic", JHandler: func(_ *http.Request) JResponse {
			panic("boom")
		}},
		{Name: "encode", Pattern: "/encode", JHandler: func(_ *http.Request) JResponse {
			return JResponse{HTTPCode: http.StatusOK, JSONData: map[string]any{"ch": make(chan int)}}
		}},
	})
	h, err := s.Handler()
	require.NoError(t, err)

	for _, path := range []string{"/panic", "/encode"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"status":"error","code":500,"details":"internal error"}`, w.Body.String(), path)
	}
	assert.Len(t, rec.ByID(5513), 1)
	assert.Len(t, rec.ByID(5511), 1)
}
