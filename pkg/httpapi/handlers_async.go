package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/apierr"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/types"
)

// SubmitResponse is returned by /v1/async/submit (spec §4.H: "Returns
// task_id, position, estimated_wait").
type SubmitResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	Position        int    `json:"position"`
	EstimatedWaitMS int    `json:"estimated_wait_ms"`
}

func (s *Server) toSubmitRequest(req ChatRequest, kind types.AgentKind) queue.SubmitRequest {
	priority, _ := types.ParsePriority(req.Priority) // admission already validated; default Normal on empty
	maxTokens := admission.ClampTokens(req.MaxTokens, s.PerAgentMaxTokens, kind)
	return queue.SubmitRequest{
		AgentKind:   kind,
		Messages:    req.toMessages(),
		Priority:    priority,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Deadline:    deadlineOrDefault(req.DeadlineMS, s.DefaultDeadline),
	}
}

// handleAsyncSubmit implements POST /v1/async/submit (spec §4.H).
func (s *Server) handleAsyncSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := admission.RequestIDFrom(r)

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	kind, ok := s.resolveAgentKind(w, r, req.AgentKind)
	if !ok {
		return
	}
	if req.Priority != "" {
		if _, err := types.ParsePriority(req.Priority); err != nil {
			admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, err.Error()).WithRequestID(requestID))
			return
		}
	}

	view, err := s.Queue.Submit(s.toSubmitRequest(req, kind))
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			admission.WriteTaxonomyError(w, ae.WithRequestID(requestID))
			return
		}
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindInternalInvariantViolation, err.Error()).WithRequestID(requestID))
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		TaskID:          view.TaskID,
		Status:          view.Status.String(),
		Position:        view.PositionIfQueued,
		EstimatedWaitMS: s.estimateWaitMS(kind, view.PositionIfQueued),
	})
}

// handleAsyncSubmitBatch implements POST /v1/async/submit-batch (spec
// §4.H: "Atomic; either all or none").
func (s *Server) handleAsyncSubmitBatch(w http.ResponseWriter, r *http.Request) {
	requestID := admission.RequestIDFrom(r)

	var reqs []ChatRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&reqs); err != nil || len(reqs) == 0 {
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, "malformed or empty batch body").WithRequestID(requestID))
		return
	}

	submits := make([]queue.SubmitRequest, 0, len(reqs))
	for _, req := range reqs {
		if len(req.Messages) == 0 {
			admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, "empty messages in batch item").WithRequestID(requestID))
			return
		}
		kind, err := admission.ValidateAgentKind(req.AgentKind, requestID)
		if err != nil {
			var ae *apierr.Error
			errors.As(err, &ae)
			admission.WriteTaxonomyError(w, ae)
			return
		}
		if _, err := types.ParsePriority(req.Priority); err != nil {
			admission.WriteTaxonomyError(w, apierr.New(apierr.KindAgentUnknown, err.Error()).WithRequestID(requestID))
			return
		}
		submits = append(submits, s.toSubmitRequest(req, kind))
	}

	views, err := s.Queue.SubmitBatch(submits)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			admission.WriteTaxonomyError(w, ae.WithRequestID(requestID))
			return
		}
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindInternalInvariantViolation, err.Error()).WithRequestID(requestID))
		return
	}

	out := make([]SubmitResponse, len(views))
	for i, v := range views {
		out[i] = SubmitResponse{TaskID: v.TaskID, Status: v.Status.String(), Position: v.PositionIfQueued}
	}
	writeJSON(w, http.StatusAccepted, out)
}

// writeQueueLookupError maps the queue's not-found/expired/not-ready
// sentinels to their spec §6 status codes, falling through to the
// apierr taxonomy for any other error (e.g. KindCancelled).
func writeQueueLookupError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("unknown task_id"))
	case errors.Is(err, queue.ErrExpired):
		writeJSON(w, http.StatusGone, errorBody("result expired"))
	case errors.Is(err, queue.ErrNotReady):
		writeJSON(w, http.StatusConflict, errorBody("result not ready"))
	default:
		var ae *apierr.Error
		if errors.As(err, &ae) {
			admission.WriteTaxonomyError(w, ae.WithRequestID(requestID))
			return
		}
		admission.WriteTaxonomyError(w, apierr.New(apierr.KindInternalInvariantViolation, err.Error()).WithRequestID(requestID))
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// handleAsyncStatus implements GET /v1/async/status/{task_id}.
func (s *Server) handleAsyncStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	view, err := s.Queue.Status(taskID)
	if err != nil {
		writeQueueLookupError(w, err, admission.RequestIDFrom(r))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleAsyncResult implements GET /v1/async/result/{task_id} (spec
// §4.H: "Returns result if ready; 409 NotReady; 404 NotFound; 410
// Expired.").
func (s *Server) handleAsyncResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	view, result, err := s.Queue.Result(taskID)
	if err != nil {
		writeQueueLookupError(w, err, admission.RequestIDFrom(r))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TaskID string       `json:"task_id"`
		Status string       `json:"status"`
		Model  string       `json:"model"`
		Result queue.Result `json:"result"`
	}{
		TaskID: view.TaskID,
		Status: view.Status.String(),
		Model:  view.ModelUsed,
		Result: *result,
	})
}

// handleAsyncCancel implements DELETE /v1/async/cancel/{task_id}.
func (s *Server) handleAsyncCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.Queue.Cancel(taskID); err != nil {
		writeQueueLookupError(w, err, admission.RequestIDFrom(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "outcome": "cancelled"})
}

// handleAsyncStats implements GET /v1/async/stats.
func (s *Server) handleAsyncStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Queue.Stats())
}

// handleAsyncHealth implements GET /v1/async/health.
func (s *Server) handleAsyncHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.Queue.Health()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}
