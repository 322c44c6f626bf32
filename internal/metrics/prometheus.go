// Package metrics provides the Prometheus-backed implementation of the
// MetricsSink interfaces the station agent and CSMS backend emit into. The
// core never serves /metrics itself; a host binary mounts promhttp over the
// default registry these collectors register with.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_sessions_active",
		Help: "Number of charging sessions currently metering",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_sessions_total",
		Help: "Total charging sessions by outcome",
	}, []string{"event"}) // started, stopped

	callsTimedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_call_timeouts_total",
		Help: "OCPP calls that hit their deadline, by action",
	}, []string{"action"})

	profilesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_charging_profiles_applied_total",
		Help: "SetChargingProfile requests accepted by stations",
	})

	stationsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_csms_stations_connected",
		Help: "Stations with a live OCPP session on the CSMS",
	})

	csmsTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_csms_transactions_total",
		Help: "Transactions seen by the CSMS, by event",
	}, []string{"event"}) // started, stopped
)

// Sink satisfies both agent.MetricsSink and csms.MetricsSink so one
// instance covers both ends when they share a process.
type Sink struct{}

// NewSink returns the shared Prometheus sink.
func NewSink() *Sink { return &Sink{} }

func (*Sink) SessionStarted(string) {
	sessionsActive.Inc()
	sessionsTotal.WithLabelValues("started").Inc()
}

func (*Sink) SessionStopped(string) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues("stopped").Inc()
}

func (*Sink) CallTimedOut(_, action string) {
	callsTimedOut.WithLabelValues(action).Inc()
}

func (*Sink) ProfileApplied(string) {
	profilesApplied.Inc()
}

func (*Sink) StationConnected(string) {
	stationsConnected.Inc()
}

func (*Sink) StationDisconnected(string) {
	stationsConnected.Dec()
}

func (*Sink) TransactionStarted(string) {
	csmsTransactionsTotal.WithLabelValues("started").Inc()
}

func (*Sink) TransactionStopped(string) {
	csmsTransactionsTotal.WithLabelValues("stopped").Inc()
}
