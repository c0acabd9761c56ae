/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package metrics holds the prometheus collectors of the agent. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diragent"

// Transports label requests by how they arrived
const (
	TransportHTTPS  = "https"
	TransportBroker = "broker"
)

type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	jobs     *prometheus.CounterVec
	broker   prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by transport, HTTP status and error code.",
		}, []string{"transport", "status", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from admission to response.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"transport"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests holding a concurrency slot.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_jobs_total",
			Help:      "Broker jobs by terminal state.",
		}, []string{"state"}),
		broker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the broker connection is established.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.duration, m.inFlight, m.jobs, m.broker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRequest counts one finished request. httpStatus is 0 for the broker.
func (m *Metrics) RecordRequest(transport string, httpStatus int, code string, d time.Duration) {
	if m == nil {
		return
	}
	status := "-"
	if httpStatus > 0 {
		status = strconv.Itoa(httpStatus)
	}
	if code == "" {
		code = "none"
	}
	m.requests.WithLabelValues(transport, status, code).Inc()
	m.duration.WithLabelValues(transport).Observe(d.Seconds())
}

// Acquired marks a concurrency slot taken. The returned func releases it.
func (m *Metrics) Acquired() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// RecordJob counts a job reaching a terminal state
func (m *Metrics) RecordJob(state string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(state).Inc()
}

// BrokerConnected sets the broker connection gauge
func (m *Metrics) BrokerConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.broker.Set(1)
	} else {
		m.broker.Set(0)
	}
}

// GaugeFunc registers a gauge sampled at scrape time
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
