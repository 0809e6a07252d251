package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveJob("order_confirmation", "transactional", "ok", 10*time.Millisecond)
	m.ObserveJob("order_confirmation", "transactional", "ok", 10*time.Millisecond)
	m.DeadLetter("low_stock_alert")
	m.Finalization("webhook", "created")
	m.ObserveHTTP("GET", "/orders/:id", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Jobs.WithLabelValues("order_confirmation", "transactional", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters.WithLabelValues("low_stock_alert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizations.WithLabelValues("webhook", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/orders/:id", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveJob("k", "q", "ok", time.Second)
		m.DeadLetter("k")
		m.Finalization("callback", "created")
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}
