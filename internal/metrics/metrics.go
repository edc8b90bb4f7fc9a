package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookdeploy_webhook_requests_total",
			Help: "Webhook deliveries by response outcome",
		},
		[]string{"outcome", "code"},
	)

	deploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookdeploy_deploys_total",
			Help: "Finished deploys by terminal status",
		},
		[]string{"status"},
	)

	deployStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookdeploy_deploy_step_duration_seconds",
			Help:    "Duration of deploy steps",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"step", "result"},
	)

	deployQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookdeploy_deploy_queue_depth",
			Help: "Deploy jobs waiting for a worker",
		},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookdeploy_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

var (
	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

func register() {
	registerOnce.Do(func() {
		registry.MustRegister(
			webhookRequestsTotal,
			deploysTotal,
			deployStepDuration,
			deployQueueDepth,
			httpRequestDuration,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

func init() {
	register()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordWebhook(outcome string, code int) {
	webhookRequestsTotal.WithLabelValues(outcome, strconv.Itoa(code)).Inc()
}

func RecordDeploy(status string) {
	deploysTotal.WithLabelValues(status).Inc()
}

func ObserveStep(step string, result string, d time.Duration) {
	deployStepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

func SetQueueDepth(n int) {
	deployQueueDepth.Set(float64(n))
}

func ObserveHTTP(method string, route string, code int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
