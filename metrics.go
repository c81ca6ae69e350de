package asyncfsm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by running instances.
// A nil *Metrics records nothing.
type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	panics          *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	instances       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Total number of events taken from the queue",
			},
			[]string{"machine", "event"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events with no handler for the current state",
			},
			[]string{"machine", "event"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of completed transitions",
			},
			[]string{"machine", "from", "to"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timeouts_total",
				Help:      "Total number of state timer expiries",
			},
			[]string{"machine"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of handler errors by reason",
			},
			[]string{"machine", "reason"},
		),
		panics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_panics_total",
				Help:      "Total number of handler panics",
			},
			[]string{"machine"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Duration of handler invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"machine", "event"},
		),
		instances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_running",
				Help:      "Current number of running instances",
			},
			[]string{"machine"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.eventsReceived,
		m.eventsDropped,
		m.transitions,
		m.timeouts,
		m.handlerErrors,
		m.panics,
		m.handlerDuration,
		m.instances,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NewMetricsFromConfig is NewMetrics with the namespace taken from cfg
func NewMetricsFromConfig(reg prometheus.Registerer, cfg Config) (*Metrics, error) {
	return NewMetrics(reg, cfg.MetricsNamespace)
}

// Handler error reasons
const (
	reasonReported         = "reported"
	reasonUndeclaredTarget = "undeclared_target"
)

func (m *Metrics) eventReceived(machine string, event EventID) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(machine, string(event)).Inc()
}

func (m *Metrics) eventDropped(machine string, event EventID) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(machine, string(event)).Inc()
}

func (m *Metrics) transition(machine string, from, to StateID) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(machine, string(from), string(to)).Inc()
}

func (m *Metrics) timeout(machine string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(machine).Inc()
}

func (m *Metrics) handlerError(machine, reason string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(machine, reason).Inc()
}

func (m *Metrics) panicked(machine string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(machine).Inc()
}

func (m *Metrics) observeHandler(machine string, event EventID, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(machine, string(event)).Observe(d.Seconds())
}

func (m *Metrics) instanceStarted(machine string) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(machine).Inc()
}

func (m *Metrics) instanceStopped(machine string) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(machine).Dec()
}
