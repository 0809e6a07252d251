package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agri"

// 非同期ジョブと注文確定の計測
type Metrics struct {
	Jobs          *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	DeadLetters   *prometheus.CounterVec
	Finalizations *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total", Help: "Processed jobs by outcome.",
		}, []string{"kind", "queue", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds", Help: "Job handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_letters_total", Help: "Jobs set aside after exhausting retries.",
		}, []string{"kind"}),
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "finalizations_total", Help: "Order finalization attempts.",
		}, []string{"source", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route template.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.Jobs, m.JobDuration, m.DeadLetters, m.Finalizations, m.HTTPRequests, m.HTTPDuration)
	return m
}

// nilでも呼べるようにしておく（テストで省略できる）

func (m *Metrics) ObserveJob(kind string, queue string, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(kind, queue, outcome).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) DeadLetter(kind string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(kind).Inc()
}

func (m *Metrics) Finalization(source string, outcome string) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(source, outcome).Inc()
}

// route はテンプレート（/orders/:id）を渡す
func (m *Metrics) ObserveHTTP(method string, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
