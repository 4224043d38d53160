package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for hookdispatch.
	Registry = prometheus.NewRegistry()

	// DeliveryAttempts counts attempts by event type and outcome.
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookdispatch_delivery_attempts_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hookdispatch_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}},
		[]string{"event_type", "outcome"},
	)
	DeliveriesBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookdispatch_deliveries_blocked_total", Help: "Targets skipped because their URL failed send-time validation."},
		[]string{"event_type"},
	)
	// LogSinkFailures counts attempt records that could not be written.
	LogSinkFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hookdispatch_log_sink_failures_total", Help: "Delivery attempt records that failed to persist."},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hookdispatch_queue_depth", Help: "Events waiting for dispatch."},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookdispatch_http_requests_total", Help: "API requests by method and status."},
		[]string{"method", "status"},
	)
)

var regOnce sync.Once

// Register adds all collectors to Registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(DeliveryAttempts)
		Registry.MustRegister(DeliveryLatency)
		Registry.MustRegister(DeliveriesBlocked)
		Registry.MustRegister(LogSinkFailures)
		Registry.MustRegister(QueueDepth)
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
