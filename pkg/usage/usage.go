// Package usage estimates prompt/completion/total token counts when
// an upstream response does not report them, and supports the
// per-agent max_tokens ceiling clamp of spec §4.G stage 3. Grounded on
// the evaluator repo's estimateTokenCount/estimateChatTokens
// (internal/adapter/ai/real/client.go), which uses the same tiktoken
// encoding for the same reason: a local, deterministic estimate that
// needs no network round-trip.
package usage

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Message mirrors the role/content shape of an OpenAI chat message
// (spec §3 Task.messages).
type Message struct {
	Role    string
	Content string
}

// Usage is the OpenAI-shaped usage block (spec §4.H).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// CountText returns the token count of s, or 0 if the encoder could
// not be loaded (never fatal — this is an estimate, not billing).
func CountText(s string) int {
	if s == "" {
		return 0
	}
	e, err := encoding()
	if err != nil {
		return 0
	}
	return len(e.Encode(s, nil, nil))
}

// EstimatePrompt counts tokens across a full message list, adding the
// same per-message formatting overhead the evaluator repo accounts
// for in estimateChatTokens (roughly 4 tokens of chat-format overhead
// per message).
func EstimatePrompt(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += CountText(m.Role) + CountText(m.Content) + 4
	}
	return total
}

// Estimate builds a full Usage block when the upstream response did
// not supply one.
func Estimate(messages []Message, completion string) Usage {
	prompt := EstimatePrompt(messages)
	comp := CountText(completion)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: comp,
		TotalTokens:      prompt + comp,
	}
}

// ClampMaxTokens enforces the per-agent ceiling of spec §4.G stage 3:
// if requested exceeds ceiling, clamp down; never reject.
func ClampMaxTokens(requested, ceiling int) int {
	if ceiling <= 0 {
		return requested
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
