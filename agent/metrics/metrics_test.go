/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest(TransportHTTPS, 200, "", 10*time.Millisecond)
	m.RecordRequest(TransportHTTPS, 403, "ClientCertificate", time.Millisecond)
	m.RecordRequest(TransportHTTPS, 403, "ClientCertificate", time.Millisecond)
	m.RecordRequest(TransportBroker, 0, "Timeout", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("https", "200", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("https", "403", "ClientCertificate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("broker", "-", "Timeout")))
}

func TestInFlight(t *testing.T) {
	m := New()
	release := m.Acquired()
	m.Acquired()()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	release()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordRequest(TransportHTTPS, 200, "", time.Millisecond)
	m.RecordJob("Completed")
	m.BrokerConnected(true)
	m.Acquired()()
	assert.NoError(t, m.GaugeFunc("x", "x", func() float64 { return 1 }))
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordJob("Completed")
	m.BrokerConnected(true)
	require.NoError(t, m.GaugeFunc("nonce_cache_entries", "Nonces held.", func() float64 { return 42 }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), `diragent_broker_jobs_total{state="Completed"} 1`)
	assert.Contains(t, string(body), "diragent_broker_connected 1")
	assert.Contains(t, string(body), "diragent_nonce_cache_entries 42")
	assert.Contains(t, string(body), "go_goroutines")
}
