package mockworker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// Server exposes the two endpoints pkg/upstream.Client speaks (spec
// §6: POST {endpoint}/v1/chat/completions, GET {endpoint}/health),
// backed by the batching engine instead of a real model. Grounded on
// the teacher's Worker.RegisterMetricsHTTP/Infer (pkg/worker/server.go),
// with gRPC's Infer replaced by a plain HTTP handler since this
// backend's whole point is to speak the gateway's HTTP wire contract.
type Server struct {
	queue     *FIFOQueue
	batcher   *Batcher
	model     string
	timeout   time.Duration
	log       *slog.Logger
}

func NewServer(queue *FIFOQueue, batcher *Batcher, model string, timeout time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{queue: queue, batcher: batcher, model: model, timeout: timeout, log: log}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/health", s.handleHealth)
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []usage.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   usage.Usage            `json:"usage"`
}

type chatCompletionChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	pending := &PendingRequest{
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		DoneCh:    make(chan CompletionResult, 1),
		ErrCh:     make(chan error, 1),
		EnqueueAt: time.Now(),
	}
	s.queue.Enqueue(pending)
	s.batcher.Signal()

	select {
	case result := <-pending.DoneCh:
		s.writeCompletion(w, req, result)
	case err := <-pending.ErrCh:
		s.log.Error("mockworker batch execution failed", "error", err)
		http.Error(w, "batch execution failed", http.StatusInternalServerError)
	case <-ctx.Done():
		http.Error(w, "request timed out waiting for batch", http.StatusGatewayTimeout)
	}
}

func (s *Server) writeCompletion(w http.ResponseWriter, req chatCompletionRequest, result CompletionResult) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	resp := chatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Usage:   result.Usage,
	}
	resp.Choices = []chatCompletionChoice{{Index: 0, FinishReason: "stop"}}
	resp.Choices[0].Message.Role = "assistant"
	resp.Choices[0].Message.Content = result.Content

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
