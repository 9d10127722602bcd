// Package metrics exposes Prometheus collectors for the bridge.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger_alarm_bridge"

// Outcome labels.
const (
	OutcomeCommitted  = "committed"
	OutcomeRejected   = "rejected"
	OutcomeConnection = "connection_error"

	EventInvalid   = "invalid"
	EventMalformed = "malformed"
	EventIgnored   = "ignored"
	EventAlarm     = "alarm"

	AlarmSent    = "sent"
	AlarmFailed  = "failed"
	AlarmDropped = "dropped"
)

// Metrics groups the bridge collectors.
type Metrics struct {
	registry prometheus.Gatherer

	transactions  *prometheus.CounterVec
	txDuration    *prometheus.HistogramVec
	sessions      prometheus.Gauge
	events        *prometheus.CounterVec
	alarms        *prometheus.CounterVec
	alarmQueue    prometheus.Gauge
	listenerState *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions submitted to the ledger by name and outcome.",
		}, []string{"transaction", "outcome"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from session open to session close per transaction.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"transaction"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Ledger sessions currently open.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Contract events received by outcome.",
		}, []string{"outcome"}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_total",
			Help:      "Alarm deliveries by outcome.",
		}, []string{"outcome"}),
		alarmQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarm_queue_length",
			Help:      "Alarms waiting for delivery.",
		}),
		listenerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_state",
			Help:      "1 for the current event listener state.",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.transactions,
		m.txDuration,
		m.sessions,
		m.events,
		m.alarms,
		m.alarmQueue,
		m.listenerState,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransaction counts a transaction outcome and its duration.
func (m *Metrics) ObserveTransaction(name, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.transactions.WithLabelValues(name, outcome).Inc()
	m.txDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// SessionOpened tracks a ledger session being opened.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionClosed tracks a ledger session being closed.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// ObserveEvent counts a contract event outcome.
func (m *Metrics) ObserveEvent(outcome string) {
	if m != nil {
		m.events.WithLabelValues(outcome).Inc()
	}
}

// ObserveAlarm counts an alarm delivery outcome.
func (m *Metrics) ObserveAlarm(outcome string) {
	if m != nil {
		m.alarms.WithLabelValues(outcome).Inc()
	}
}

// SetAlarmQueue records the alarm queue length.
func (m *Metrics) SetAlarmQueue(n int) {
	if m != nil {
		m.alarmQueue.Set(float64(n))
	}
}

// SetListenerState marks state as current among all states.
func (m *Metrics) SetListenerState(state string, all []string) {
	if m == nil {
		return
	}

	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}

		m.listenerState.WithLabelValues(s).Set(value)
	}
}
