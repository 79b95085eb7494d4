package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/identity-service/internal/core/domain"
)

const namespace = "identity"

// Metrics holds the Prometheus collectors for credential flows.
type Metrics struct {
	authEvents    *prometheus.CounterVec
	hashDuration  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewMetrics registers the credential flow collectors with reg; nil uses the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	authEvents, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_total",
		Help:      "Credential flow outcomes partitioned by flow and outcome.",
	}, []string{"flow", "outcome"}))
	if err != nil {
		return nil, err
	}

	hashDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "password_hash_duration_seconds",
		Help:      "Time spent hashing or verifying passwords, including the wait for a worker slot.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"}))
	if err != nil {
		return nil, err
	}

	notifications, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification hand-offs partitioned by kind and result.",
	}, []string{"kind", "result"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		authEvents:    authEvents,
		hashDuration:  hashDuration,
		notifications: notifications,
	}, nil
}

// ObserveFlow counts one completed credential flow.
func (m *Metrics) ObserveFlow(flow, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(flow, outcome).Inc()
}

// ObserveHash records the duration of one hashing operation.
func (m *Metrics) ObserveHash(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveNotification counts one notification send.
func (m *Metrics) ObserveNotification(kind domain.NotificationKind, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			var zero T
			return zero, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}
