// Package metrics holds the Prometheus collectors for delivery and queueing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so tests
// and tools can run without a registry.
type Metrics struct {
	deliveries       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	tasksEnqueued    *prometheus.CounterVec
	taskRetries      *prometheus.CounterVec
	suppressions     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyroute_deliveries_total",
				Help: "Delivery attempts by final log status.",
			},
			[]string{"status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifyroute_dispatch_duration_seconds",
				Help:    "Duration of transport dispatches.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel_type"},
		),
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyroute_tasks_enqueued_total",
				Help: "Tasks placed on the delivery queue.",
			},
			[]string{"task"},
		),
		taskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyroute_task_retries_total",
				Help: "Tasks rescheduled after a retryable failure.",
			},
			[]string{"task"},
		),
		suppressions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyroute_suppressions_total",
				Help: "Deliveries skipped by suppression controls.",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{m.deliveries, m.dispatchDuration, m.tasksEnqueued, m.taskRetries, m.suppressions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordDelivery counts one delivery outcome.
func (m *Metrics) RecordDelivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

// ObserveDispatch records how long a transport call took.
func (m *Metrics) ObserveDispatch(channelType string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(channelType).Observe(d.Seconds())
}

// TaskEnqueued counts a queued task.
func (m *Metrics) TaskEnqueued(task string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(task).Inc()
}

// TaskRetried counts a rescheduled task.
func (m *Metrics) TaskRetried(task string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(task).Inc()
}

// Suppressed counts a delivery skipped for reason.
func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.suppressions.WithLabelValues(reason).Inc()
}
