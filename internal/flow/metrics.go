/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a set of the flow's Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	flows       prometheus.Gauge
	transitions *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	stale       *prometheus.CounterVec
	finalized   prometheus.Counter
}

// NewMetrics creates the flow's metrics and registers them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signflow",
			Name:      "active_flows",
			Help:      "A number of mounted sign-in flows.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signflow",
			Name:      "transitions_total",
			Help:      "A number of state transitions of the flow's machines.",
		}, []string{"machine", "from", "to"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signflow",
			Name:      "tasks_total",
			Help:      "A number of finished asynchronous operations by outcome.",
		}, []string{"machine", "outcome"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signflow",
			Name:      "stale_results_total",
			Help:      "A number of discarded results of operations whose state was left.",
		}, []string{"machine"}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signflow",
			Name:      "finalized_total",
			Help:      "A number of completed sign-ins.",
		}),
	}
	reg.MustRegister(m.flows, m.transitions, m.tasks, m.stale, m.finalized)
	return m
}

func (m *Metrics) flowMounted() {
	if m != nil {
		m.flows.Inc()
	}
}

func (m *Metrics) flowClosed() {
	if m != nil {
		m.flows.Dec()
	}
}

func (m *Metrics) transition(machine string, from, to fmt.Stringer) {
	if m != nil {
		m.transitions.WithLabelValues(machine, from.String(), to.String()).Inc()
	}
}

func (m *Metrics) taskFinished(machine string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.tasks.WithLabelValues(machine, outcome).Inc()
}

func (m *Metrics) staleResult(machine string) {
	if m != nil {
		m.stale.WithLabelValues(machine).Inc()
	}
}

func (m *Metrics) signedIn() {
	if m != nil {
		m.finalized.Inc()
	}
}
