/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirbroker"

// Metrics holds the broker collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	connected prometheus.Gauge
	messages  *prometheus.CounterVec
	jobs      *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_connected",
			Help:      "Agents with an open websocket.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Broker messages by direction and type.",
		}, []string{"direction", "type"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs by state reached.",
		}, []string{"state"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_rejections_total",
			Help:      "Refused agent connections by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.connected, m.messages, m.jobs, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) agentUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Inc()
	} else {
		m.connected.Dec()
	}
}

func (m *Metrics) message(direction, msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) job(state string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(state).Inc()
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
