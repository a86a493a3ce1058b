package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/usage"
)

func testRequest(kind types.AgentKind) queue.SubmitRequest {
	return queue.SubmitRequest{
		AgentKind: kind,
		Messages:  []usage.Message{{Role: "user", Content: "hi"}},
		MaxTokens: 16,
		Deadline:  time.Minute,
	}
}

func TestCollector_SamplePopulatesGauges(t *testing.T) {
	q := queue.New(10, time.Minute, time.Minute, 30*time.Second)
	_, err := q.Submit(testRequest(types.AgentChat))
	require.NoError(t, err)

	reg := registry.New(nil)
	reg.Register(registry.ModelEntry{LogicalName: "model-a", DeviceID: "gpu0", DeclaredVRAMGB: 8, MaxContextTokens: 4096})

	probe := gpuprobe.New(gpuprobe.NewSimulated(map[string]float64{"gpu0": 24}, nil), time.Hour)
	probe.Start()
	defer probe.Stop()

	c := NewCollector(probe, q, reg, time.Hour)
	c.sample()

	require.Equal(t, float64(1), testutil.ToFloat64(QueueDepthByStatus.WithLabelValues("queued")))
	require.Equal(t, float64(1), testutil.ToFloat64(QueueDepthByAgentKind.WithLabelValues("chat")))
	require.Equal(t, float64(0), testutil.ToFloat64(ModelState.WithLabelValues("model-a")))
	require.GreaterOrEqual(t, testutil.ToFloat64(GPUPressureLevel.WithLabelValues("gpu0")), float64(0))
}

func TestCollector_StartStopDoesNotPanic(t *testing.T) {
	q := queue.New(10, time.Minute, time.Minute, 30*time.Second)
	reg := registry.New(nil)
	probe := gpuprobe.New(gpuprobe.NewSimulated(map[string]float64{"gpu0": 24}, nil), time.Hour)
	probe.Start()
	defer probe.Stop()

	c := NewCollector(probe, q, reg, 5*time.Millisecond)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
}

func TestRecordRateLimitRejection(t *testing.T) {
	before := testutil.ToFloat64(RateLimitRejectionsTotal.WithLabelValues("chat"))
	RecordRateLimitRejection("chat")
	require.Equal(t, before+1, testutil.ToFloat64(RateLimitRejectionsTotal.WithLabelValues("chat")))
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "llmgateway_")
}
