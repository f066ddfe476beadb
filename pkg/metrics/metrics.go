// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "gateway_tcp_proxy"

// Metrics holds the relay counters. Both counters are safe for concurrent
// use by any number of sessions.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal prometheus.Counter
	BytesTransferred prometheus.Counter
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Connections uint64
	Bytes       uint64
}

// New creates the counters on a private registry so that pushes only carry
// relay metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections handled",
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Total bytes transferred",
		}),
	}
	m.registry.MustRegister(m.ConnectionsTotal, m.BytesTransferred)

	return m
}

// IncConnections counts one accepted connection.
func (m *Metrics) IncConnections() {
	m.ConnectionsTotal.Inc()
}

// AddBytes counts n forwarded bytes.
func (m *Metrics) AddBytes(n int) {
	if n <= 0 {
		return
	}
	m.BytesTransferred.Add(float64(n))
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Connections: counterValue(m.ConnectionsTotal),
		Bytes:       counterValue(m.BytesTransferred),
	}
}

// Registry exposes the registry backing the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the counters in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func counterValue(c prometheus.Counter) uint64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}
