// SPDX-License-Identifier: Apache-2.0

// Package prom exports engine events to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golang-auth/go-secneg/observ"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer implements observ.Observer on Prometheus collectors.
type Observer struct {
	roundsTotal     *prometheus.CounterVec
	handshakeTotal  *prometheus.CounterVec
	handshakeRounds prometheus.Histogram
	protectTotal    *prometheus.CounterVec
}

var _ observ.Observer = (*Observer)(nil)

// NewObserver registers the engine metrics on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		roundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secneg_handshake_rounds_total",
			Help: "Handshake rounds executed, by engine role.",
		}, []string{"role"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secneg_handshakes_total",
			Help: "Terminated handshakes by role and result.",
		}, []string{"role", "result"}),
		handshakeRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "secneg_handshake_round_count",
			Help:    "Rounds taken by terminated handshakes.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
		protectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secneg_protect_ops_total",
			Help: "Message protection operations by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(
		o.roundsTotal,
		o.handshakeTotal,
		o.handshakeRounds,
		o.protectTotal,
	)
	return o
}

func (o *Observer) HandshakeRound(role observ.Role) {
	o.roundsTotal.WithLabelValues(string(role)).Inc()
}

func (o *Observer) HandshakeDone(role observ.Role, rounds int, established bool) {
	o.handshakeTotal.WithLabelValues(string(role), resultLabel(established)).Inc()
	o.handshakeRounds.Observe(float64(rounds))
}

func (o *Observer) ProtectOp(op string, ok bool) {
	o.protectTotal.WithLabelValues(op, resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}

	return "error"
}
