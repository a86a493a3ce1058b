package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/agentrouter"
	"github.com/kunal/llm-gateway/pkg/balancer"
	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/provider"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/usage"
)

// idleGPU reports ample headroom and zero pressure for every device,
// so balancer.Decide never sheds a candidate in these tests.
type idleGPU struct{}

func (idleGPU) Current(deviceID string) (gpuprobe.GPUMetric, bool) {
	return gpuprobe.GPUMetric{DeviceID: deviceID, UsedGB: 1, TotalGB: 24, UtilizationPct: 5, TemperatureC: 40}, true
}

func mockChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
		})
	}))
}

func buildDispatcher(t *testing.T, endpointURL string) (*Dispatcher, *queue.Queue) {
	t.Helper()
	reg := registry.New(nil)
	reg.Register(registry.ModelEntry{
		LogicalName:      "model-a",
		EndpointURL:      endpointURL,
		DeviceID:         "gpu0",
		DeclaredVRAMGB:   8,
		MaxContextTokens: 4096,
	})

	router, err := agentrouter.New(map[types.AgentKind][]string{types.AgentChat: {"model-a"}}, reg)
	require.NoError(t, err)

	bal := balancer.New(reg, idleGPU{}, 1)
	prov := provider.New(false, "", "", "", "external", time.Second)
	q := queue.New(10, time.Minute, 0, 5*time.Second)

	d := New(Config{MaxBatchSize: 4, MaxWaitTime: 10 * time.Millisecond, RetryBudget: 1, Concurrency: 2}, q, router, bal, reg, prov, nil)
	return d, q
}

func TestDispatcher_CompletesTaskAgainstWorker(t *testing.T) {
	srv := mockChatServer(t, "hello from model-a")
	defer srv.Close()

	d, q := buildDispatcher(t, srv.URL)
	d.Start([]types.AgentKind{types.AgentChat})
	defer d.Stop()

	view, err := q.Submit(queue.SubmitRequest{
		AgentKind:   types.AgentChat,
		Messages:    []usage.Message{{Role: "user", Content: "hi"}},
		Priority:    types.PriorityNormal,
		MaxTokens:   64,
		Temperature: 0.1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := q.Status(view.TaskID)
		return status.Status == queue.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	_, result, err := q.Result(view.TaskID)
	require.NoError(t, err)
	require.Equal(t, "hello from model-a", result.Content)
}

func TestDispatcher_CancelledTaskNeverDispatched(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, q := buildDispatcher(t, srv.URL)

	view, err := q.Submit(queue.SubmitRequest{
		AgentKind: types.AgentChat,
		Messages:  []usage.Message{{Role: "user", Content: "hi"}},
		Priority:  types.PriorityNormal,
		MaxTokens: 64,
	})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(view.TaskID))

	d.Start([]types.AgentKind{types.AgentChat})
	defer d.Stop()

	time.Sleep(50 * time.Millisecond)
	require.False(t, called)

	status, err := q.Status(view.TaskID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCancelled, status.Status)
}

func TestDispatcher_BackpressureRequeuesInsteadOfFailing(t *testing.T) {
	srv := mockChatServer(t, "hello from model-a")
	defer srv.Close()

	d, q := buildDispatcher(t, srv.URL)

	// Drive model-a Unhealthy so balancer.Decide's step-2 health filter
	// sheds it, leaving no viable target and forcing ErrNoViableTarget.
	for i := 0; i < 6; i++ {
		d.registry.RecordOutcome("model-a", false, 0)
	}

	d.Start([]types.AgentKind{types.AgentChat})
	defer d.Stop()

	view, err := q.Submit(queue.SubmitRequest{
		AgentKind:   types.AgentChat,
		Messages:    []usage.Message{{Role: "user", Content: "hi"}},
		Priority:    types.PriorityNormal,
		MaxTokens:   64,
		Temperature: 0.1,
		Deadline:    time.Second,
	})
	require.NoError(t, err)

	// While the model stays unhealthy the task must be requeued, never
	// finalized Failed, across several collator passes.
	sawQueued := false
	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		status, err := q.Status(view.TaskID)
		require.NoError(t, err)
		require.NotEqual(t, queue.StatusFailed, status.Status)
		if status.Status == queue.StatusQueued {
			sawQueued = true
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, sawQueued, "task should have been observed back in Queued between requeues")

	// Once pressure eases the same requeued task dispatches normally.
	d.registry.RecordOutcome("model-a", true, 0)

	require.Eventually(t, func() bool {
		status, _ := q.Status(view.TaskID)
		return status.Status == queue.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_NoCandidatesFailsWithoutProvider(t *testing.T) {
	d, q := buildDispatcher(t, "http://127.0.0.1:1") // unreachable

	d.Start([]types.AgentKind{types.AgentBilling}) // no candidates configured for this kind
	defer d.Stop()

	view, err := q.Submit(queue.SubmitRequest{
		AgentKind: types.AgentBilling,
		Messages:  []usage.Message{{Role: "user", Content: "hi"}},
		Priority:  types.PriorityNormal,
		MaxTokens: 64,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := q.Status(view.TaskID)
		return status.Status == queue.StatusFailed
	}, time.Second, 5*time.Millisecond)
}
