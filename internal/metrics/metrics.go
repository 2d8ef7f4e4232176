// Package metrics provides Prometheus metrics collection for the alarms engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the alarms engine.
type Metrics struct {
	AlarmsTriggeredTotal      *prometheus.CounterVec
	AlarmsAcknowledgedTotal   *prometheus.CounterVec
	ActionOutcomesTotal       *prometheus.CounterVec
	ActionDuration            *prometheus.HistogramVec
	SmtpOutcomesTotal         *prometheus.CounterVec
	ExpressionEvalErrorsTotal *prometheus.CounterVec
	ForwardEvalErrorsTotal    *prometheus.CounterVec
	ActionQueueDepth          prometheus.Gauge
	LogBaleRotationsTotal     prometheus.Counter
	ServiceInfo               *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
// against the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlarmsTriggeredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarms_triggered_total",
				Help: "Total number of alarm on-transitions",
			},
			[]string{"alarm"},
		),
		AlarmsAcknowledgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarms_acknowledged_total",
				Help: "Total number of alarm acknowledgements",
			},
			[]string{"alarm"},
		),
		ActionOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_outcomes_total",
				Help: "Total number of completed action instances by type and outcome",
			},
			[]string{"action_type", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "action_duration_seconds",
				Help:    "Action instance execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"action_type"},
		),
		SmtpOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtp_outcomes_total",
				Help: "Total number of SmtpSender runs by outcome",
			},
			[]string{"outcome"},
		),
		ExpressionEvalErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expression_eval_errors_total",
				Help: "Total number of expression evaluation errors by alarm",
			},
			[]string{"alarm"},
		),
		ForwardEvalErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forward_eval_errors_total",
				Help: "Total number of forward-action expression evaluation errors silently swallowed at perform_action time",
			},
			[]string{"alarm"},
		),
		ActionQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "action_queue_depth",
				Help: "Current number of actions queued or running in the manager's serial FIFO",
			},
		),
		LogBaleRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "log_bale_rotations_total",
				Help: "Total number of alarm log bale rotations",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Static service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.AlarmsTriggeredTotal,
			m.AlarmsAcknowledgedTotal,
			m.ActionOutcomesTotal,
			m.ActionDuration,
			m.SmtpOutcomesTotal,
			m.ExpressionEvalErrorsTotal,
			m.ForwardEvalErrorsTotal,
			m.ActionQueueDepth,
			m.LogBaleRotationsTotal,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues("alarms-engine", "1.0.0").Set(1)

	return m
}

// RecordAlarmTriggered records an alarm's on-transition.
func (m *Metrics) RecordAlarmTriggered(alarm string) {
	m.AlarmsTriggeredTotal.WithLabelValues(alarm).Inc()
}

// RecordAlarmAcknowledged records an acknowledge call that actually applied.
func (m *Metrics) RecordAlarmAcknowledged(alarm string) {
	m.AlarmsAcknowledgedTotal.WithLabelValues(alarm).Inc()
}

// RecordActionOutcome records a completed action instance.
func (m *Metrics) RecordActionOutcome(actionType, outcome string, duration time.Duration) {
	m.ActionOutcomesTotal.WithLabelValues(actionType, outcome).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordSmtpOutcome records the terminal outcome of one SmtpSender run.
func (m *Metrics) RecordSmtpOutcome(outcome string) {
	m.SmtpOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordEvalError records an expression evaluation failure for an alarm.
func (m *Metrics) RecordEvalError(alarm string) {
	m.ExpressionEvalErrorsTotal.WithLabelValues(alarm).Inc()
}

// RecordForwardEvalError records a forward-action expression evaluation
// failure swallowed at perform_action time (spec §9 open question).
func (m *Metrics) RecordForwardEvalError(alarm string) {
	m.ForwardEvalErrorsTotal.WithLabelValues(alarm).Inc()
}

// SetActionQueueDepth sets the current action queue depth gauge.
func (m *Metrics) SetActionQueueDepth(depth int) {
	m.ActionQueueDepth.Set(float64(depth))
}

// RecordLogBaleRotation records one bale rotation of the alarm logger.
func (m *Metrics) RecordLogBaleRotation() {
	m.LogBaleRotationsTotal.Inc()
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New()
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New()
	}
	return globalMetrics
}
