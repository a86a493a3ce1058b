package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// ChatCompletionResponse is the OpenAI-shaped response body assembled
// for both the synchronous chat endpoint and a ready async result
// (spec §4.H: "id, created, model, choices[0], usage").
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   usage.Usage  `json:"usage"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatResponse(model, content string, u usage.Usage) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: u,
	}
}
