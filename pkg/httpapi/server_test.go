package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/agentrouter"
	"github.com/kunal/llm-gateway/pkg/balancer"
	"github.com/kunal/llm-gateway/pkg/dispatch"
	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/provider"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
)

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

func buildServer(t *testing.T, endpointURL string) (*Server, *queue.Queue, *dispatch.Dispatcher) {
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
	d := dispatch.New(dispatch.Config{MaxBatchSize: 4, MaxWaitTime: 10 * time.Millisecond, RetryBudget: 1, Concurrency: 2}, q, router, bal, reg, prov, nil)

	gpu := gpuprobe.New(gpuprobe.NewSimulated(map[string]float64{"gpu0": 24}, nil), time.Hour)

	limiter := admission.NewLimiter(1000, time.Minute)
	s := New(q, d, router, reg, gpu, limiter, nil, 2*time.Second, nil)
	return s, q, d
}

func TestHandleChatCompletions_HappyPath(t *testing.T) {
	srv := mockChatServer(t, "hello there")
	defer srv.Close()

	s, _, d := buildServer(t, srv.URL)
	d.Start([]types.AgentKind{types.AgentChat})
	defer d.Stop()

	router := s.NewRouter(nil)
	body := `{"agent_kind":"chat","messages":[{"role":"user","content":"hi"}],"max_tokens":32}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hello there", resp.Choices[0].Message.Content)
	require.Equal(t, "model-a", resp.Model)
	require.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestHandleChatCompletions_UnknownAgentKindIs400(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	body := `{"agent_kind":"not-a-kind","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAsyncSubmitAndStatus(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	body := `{"agent_kind":"chat","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/async/submit", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitResp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	require.NotEmpty(t, submitResp.TaskID)

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/async/status/"+submitResp.TaskID, nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)
}

func TestHandleAsyncStatus_UnknownTaskIs404(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/async/status/never-existed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAsyncResult_NotReadyIs409(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1") // no dispatcher started: task stays queued
	router := s.NewRouter(nil)

	body := `{"agent_kind":"chat","messages":[{"role":"user","content":"hi"}]}`
	submitReq := httptest.NewRequest(http.MethodPost, "/v1/async/submit", bytes.NewBufferString(body))
	submitRec := httptest.NewRecorder()
	router.ServeHTTP(submitRec, submitReq)

	var submitResp SubmitResponse
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitResp))

	resultReq := httptest.NewRequest(http.MethodGet, "/v1/async/result/"+submitResp.TaskID, nil)
	resultRec := httptest.NewRecorder()
	router.ServeHTTP(resultRec, resultReq)
	require.Equal(t, http.StatusConflict, resultRec.Code)
}

func TestHandleAsyncCancel(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	body := `{"agent_kind":"chat","messages":[{"role":"user","content":"hi"}]}`
	submitReq := httptest.NewRequest(http.MethodPost, "/v1/async/submit", bytes.NewBufferString(body))
	submitRec := httptest.NewRecorder()
	router.ServeHTTP(submitRec, submitReq)

	var submitResp SubmitResponse
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitResp))

	cancelReq := httptest.NewRequest(http.MethodDelete, "/v1/async/cancel/"+submitResp.TaskID, nil)
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)
}

func TestHandleAsyncStatsAndHealth(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	statsRec := httptest.NewRecorder()
	router.ServeHTTP(statsRec, httptest.NewRequest(http.MethodGet, "/v1/async/stats", nil))
	require.Equal(t, http.StatusOK, statsRec.Code)

	healthRec := httptest.NewRecorder()
	router.ServeHTTP(healthRec, httptest.NewRequest(http.MethodGet, "/v1/async/health", nil))
	require.Equal(t, http.StatusOK, healthRec.Code)
}

func TestHandleModelsAndGPUStatus(t *testing.T) {
	s, _, _ := buildServer(t, "http://127.0.0.1:1")
	router := s.NewRouter(nil)

	modelsRec := httptest.NewRecorder()
	router.ServeHTTP(modelsRec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, modelsRec.Code)
	var models []ModelView
	require.NoError(t, json.Unmarshal(modelsRec.Body.Bytes(), &models))
	require.Len(t, models, 1)
	require.Equal(t, "model-a", models[0].LogicalName)

	gpuRec := httptest.NewRecorder()
	router.ServeHTTP(gpuRec, httptest.NewRequest(http.MethodGet, "/v1/gpu/status", nil))
	require.Equal(t, http.StatusOK, gpuRec.Code)
}
