// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Coordinator's Prometheus collectors.
type Metrics struct {
	starts      prometheus.Counter
	exits       *prometheus.CounterVec
	pendingAcks prometheus.Gauge
	acks        *prometheus.CounterVec
	operations  *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with
// registerer. A nil registerer creates unregistered collectors, which
// is what tests and embedders without a metrics endpoint want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		starts: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveprobe_worker_starts_total",
			Help: "Number of isolated workers started",
		}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveprobe_worker_exits_total",
			Help: "Number of isolated workers that ended, by reason",
		}, []string{"reason"}), // stopped, stop_failed, unexpected
		pendingAcks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveprobe_pending_acks",
			Help: "Probe operations forwarded and not yet acknowledged",
		}),
		acks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveprobe_acks_total",
			Help: "Acknowledgments resolved, by outcome",
		}, []string{"outcome"}), // ok, error, aborted
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveprobe_probe_operations_total",
			Help: "Probe operations forwarded to the worker",
		}, []string{"action", "source"}), // source: remote, file
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveprobe_protocol_anomalies_total",
			Help: "Unexpected messages on worker channels, by kind",
		}, []string{"kind"}), // unknown_ack, undecodable, send_failed
	}
}
