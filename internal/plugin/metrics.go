// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for plugin lifecycle events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	memory      *prometheus.GaugeVec
	failures    *prometheus.CounterVec
}

// NewMetrics creates and registers lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluginhost_plugin_state",
				Help: "Current lifecycle state per plugin (1 for the active state, 0 otherwise)",
			},
			[]string{"plugin", "state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_plugin_transitions_total",
				Help: "Total number of lifecycle transitions by plugin and target state",
			},
			[]string{"plugin", "to"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluginhost_plugin_lifecycle_duration_seconds",
				Help:    "Duration of load and unload calls into the isolated environment",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin", "operation", "outcome"},
		),
		memory: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluginhost_plugin_memory_bytes",
				Help: "Last reported resident memory of the plugin isolation boundary",
			},
			[]string{"plugin"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_plugin_failures_total",
				Help: "Total number of contained isolation failures by error code",
			},
			[]string{"plugin", "code"},
		),
	}

	reg.MustRegister(m.state, m.transitions, m.duration, m.memory, m.failures)
	return m
}

func (m *Metrics) recordState(plugin string, to State) {
	if m == nil {
		return
	}
	for _, s := range AllStates() {
		v := 0.0
		if s == to {
			v = 1
		}
		m.state.WithLabelValues(plugin, s.String()).Set(v)
	}
	m.transitions.WithLabelValues(plugin, to.String()).Inc()
}

func (m *Metrics) recordDuration(plugin, operation string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.duration.WithLabelValues(plugin, operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) recordMemory(plugin string, bytes int64) {
	if m == nil {
		return
	}
	m.memory.WithLabelValues(plugin).Set(float64(bytes))
}

func (m *Metrics) recordFailure(plugin, code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(plugin, code).Inc()
}
