package metrics

import (
	"time"

	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
)

// Collector ticks the gauges declared in metrics.go from the queue, registry,
// and GPU probe, the same polling role the teacher's simulationLoop
// plays for its own metrics, generalized to pull from three
// collaborators instead of mutating collector-local state directly.
type Collector struct {
	gpu  *gpuprobe.Probe
	q    *queue.Queue
	reg  *registry.Registry
	tick time.Duration
	stop chan struct{}
}

// NewCollector builds a Collector. tick defaults to 2s when zero or
// negative.
func NewCollector(gpu *gpuprobe.Probe, q *queue.Queue, reg *registry.Registry, tick time.Duration) *Collector {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	return &Collector{gpu: gpu, q: q, reg: reg, tick: tick, stop: make(chan struct{})}
}

// Start begins the periodic pull loop in the background.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		c.sample() // immediate first sample
		for {
			select {
			case <-ticker.C:
				c.sample()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the pull loop started by Start.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) sample() {
	stats := c.q.Stats()
	QueueDepthByStatus.WithLabelValues("queued").Set(float64(stats.Depth))
	QueueDepthByStatus.WithLabelValues("batching").Set(float64(stats.Batching))
	QueueDepthByStatus.WithLabelValues("processing").Set(float64(stats.Processing))
	for kind, n := range stats.DepthByAgentKind {
		QueueDepthByAgentKind.WithLabelValues(kind).Set(float64(n))
	}
	TasksCompletedTotal.Set(float64(stats.CompletedTotal))
	TasksFailedTotal.Set(float64(stats.FailedTotal))
	TasksCancelledTotal.Set(float64(stats.CancelledTotal))

	for _, m := range c.reg.Snapshot() {
		ModelEMALatencyMS.WithLabelValues(m.LogicalName).Set(m.EMALatencyMS)
		ModelState.WithLabelValues(m.LogicalName).Set(float64(m.State))
	}

	for _, deviceID := range c.gpu.Devices() {
		sample, ok := c.gpu.Current(deviceID)
		if !ok {
			continue
		}
		GPUPressureLevel.WithLabelValues(deviceID).Set(float64(gpuprobe.Classify(sample)))
		GPUUtilizationPct.WithLabelValues(deviceID).Set(sample.UtilizationPct)
		GPUTemperatureC.WithLabelValues(deviceID).Set(sample.TemperatureC)
	}
}
