package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/apierr"
)

// handleChatCompletions implements spec §4.H's synchronous path:
// admission, then the same Resolve pipeline the async dispatcher
// uses, wrapped as an OpenAI-style response.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := admission.RequestIDFrom(r)

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	kind, ok := s.resolveAgentKind(w, r, req.AgentKind)
	if !ok {
		return
	}

	maxTokens := admission.ClampTokens(req.MaxTokens, s.PerAgentMaxTokens, kind)
	messages := req.toMessages()

	ctx, cancel := context.WithTimeout(r.Context(), deadlineOrDefault(req.DeadlineMS, s.DefaultDeadline))
	defer cancel()

	startedAt := time.Now()
	result, model, rerr := s.Dispatcher.Resolve(ctx, kind, messages, req.Temperature, maxTokens, startedAt, nil)

	admission.LogAudit(s.Log, admission.Audit{
		RequestID:   requestID,
		AgentKind:   string(kind),
		ClientIP:    r.RemoteAddr,
		ContentHash: admission.DigestMessages(messages),
		Outcome:     outcomeFor(rerr),
		ErrKind:     errKindFor(rerr),
	})

	if rerr != nil {
		admission.WriteTaxonomyError(w, rerr.WithRequestID(requestID))
		return
	}

	resp := buildChatResponse(model, result.Content, result.Usage)
	writeJSON(w, http.StatusOK, resp)
}

func outcomeFor(rerr *apierr.Error) string {
	if rerr == nil {
		return "completed"
	}
	return "failed"
}

func errKindFor(rerr *apierr.Error) string {
	if rerr == nil {
		return ""
	}
	return rerr.Kind.String()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
