package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordDelivery("success")
	m.RecordDelivery("success")
	m.RecordDelivery("fail")
	m.Suppressed("deduped")
	m.TaskEnqueued("notifications.deliver")
	m.TaskRetried("notifications.deliver")
	m.ObserveDispatch("webhook", 250*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.deliveries.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deliveries.WithLabelValues("fail")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.suppressions.WithLabelValues("deduped")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksEnqueued.WithLabelValues("notifications.deliver")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.taskRetries.WithLabelValues("notifications.deliver")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, f := range families {
		if f.GetName() == "notifyroute_dispatch_duration_seconds" {
			hist = f.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.25, hist.GetSampleSum(), 0.0001)
}

func TestMetrics_DoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDelivery("success")
		m.ObserveDispatch("email", time.Second)
		m.TaskEnqueued("x")
		m.TaskRetried("x")
		m.Suppressed("silenced")
	})
}
