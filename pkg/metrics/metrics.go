// Package metrics upgrades the teacher's hand-rolled Prometheus text
// exposition (pkg/worker/metrics.go's ServePrometheus, built from raw
// fmt.Fprintf lines) into real client_golang collectors, covering the
// same surface — GPU pressure, queue depth, per-model latency — plus
// gateway-specific rate-limit rejection counts, in the promauto idiom
// used across the pack (evaluator repo's internal/adapter/observability,
// the tutuengine repo's internal/infra/metrics).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llmgateway"

var (
	// QueueDepthByStatus tracks the number of tasks in each lifecycle
	// status (queued, batching, processing).
	QueueDepthByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of tasks currently in the queue by status.",
	}, []string{"status"})

	// QueueDepthByAgentKind tracks queued-task count per agent kind.
	QueueDepthByAgentKind = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth_by_agent_kind",
		Help:      "Number of queued tasks by agent kind.",
	}, []string{"agent_kind"})

	// TasksCompletedTotal, TasksFailedTotal, TasksCancelledTotal mirror
	// queue.Stats's cumulative terminal counters.
	TasksCompletedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total completed tasks since process start.",
	})
	TasksFailedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Total failed tasks since process start.",
	})
	TasksCancelledTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_cancelled_total",
		Help:      "Total cancelled tasks since process start.",
	})

	// ModelEMALatencyMS tracks the registry's per-model exponential
	// moving average dispatch latency.
	ModelEMALatencyMS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_ema_latency_ms",
		Help:      "Exponential moving average dispatch latency per model, in milliseconds.",
	}, []string{"model"})

	// ModelState tracks each model's registry health state as a gauge
	// (0=healthy, 1=degraded, 2=unhealthy), for alerting on transitions.
	ModelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_state",
		Help:      "Registry health state per model (0=healthy, 1=degraded, 2=unhealthy).",
	}, []string{"model"})

	// GPUPressureLevel tracks the classified pressure level per device
	// (0=low, 1=normal, 2=high, 3=critical).
	GPUPressureLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gpu_pressure_level",
		Help:      "Classified GPU pressure level per device (0=low, 1=normal, 2=high, 3=critical).",
	}, []string{"device"})

	// GPUUtilizationPct and GPUTemperatureC mirror the teacher's
	// gpu_utilization and gpu_temperature_celsius gauges, per device.
	GPUUtilizationPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gpu_utilization_pct",
		Help:      "GPU utilization percentage per device.",
	}, []string{"device"})
	GPUTemperatureC = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gpu_temperature_celsius",
		Help:      "GPU temperature in Celsius per device.",
	}, []string{"device"})

	// RateLimitRejectionsTotal counts requests rejected by pkg/admission's
	// rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Total requests rejected by the admission rate limiter.",
	}, []string{"agent_kind"})
)

// RecordRateLimitRejection increments the rejection counter for the
// given agent kind label (empty string when the kind couldn't be
// determined, e.g. a malformed request that never reached routing).
func RecordRateLimitRejection(agentKind string) {
	RateLimitRejectionsTotal.WithLabelValues(agentKind).Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
