package httpapi

import "github.com/kunal/llm-gateway/pkg/usage"

// MessageRequest mirrors the OpenAI chat message shape on the wire.
type MessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body of POST /v1/chat/completions and, with
// Priority/Deadline added, of the async submit endpoints (spec §4.H).
type ChatRequest struct {
	AgentKind   string           `json:"agent_kind" validate:"required"`
	Messages    []MessageRequest `json:"messages" validate:"required,min=1,dive"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Priority    string           `json:"priority"`
	DeadlineMS  int              `json:"deadline_ms"`
}

func (r ChatRequest) toMessages() []usage.Message {
	out := make([]usage.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = usage.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
