// Package upstream is the shared OpenAI-compatible HTTP client used
// both for worker dispatch (spec §6: "Worker endpoints") and, wrapped
// by pkg/provider, for the external provider — the two share an
// identical wire shape per spec §6 ("Same shape as a worker
// endpoint. distinguished only by configuration").
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// ErrKind mirrors provider.ErrKind; kept as its own type so this
// low-level package has no dependency on pkg/provider.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrNetwork
	ErrHTTPStatus
	ErrDecode
	ErrTimeout
	ErrCancelled
)

func (k ErrKind) String() string {
	switch k {
	case ErrNetwork:
		return "Network"
	case ErrHTTPStatus:
		return "HttpStatus"
	case ErrDecode:
		return "Decode"
	case ErrTimeout:
		return "Timeout"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "None"
	}
}

// Error carries the kind and the underlying cause.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("upstream: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Response is the normalized result of a chat completion call.
type Response struct {
	Content string
	Usage   usage.Usage
	HasUsage bool
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client performs the HTTP round trip described in spec §6.
type Client struct {
	httpClient *http.Client
}

// New builds a Client. httpClient lets callers share connection
// pooling settings; pass nil for http.DefaultClient's transport with
// no client-level timeout (callers always pass a deadline-bound ctx).
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Complete POSTs to {endpointURL}/v1/chat/completions with bearer
// authorization (spec §6). apiKey may be empty for workers that don't
// require auth.
func (c *Client) Complete(ctx context.Context, endpointURL, apiKey, model string, messages []usage.Message, temperature float64, maxTokens int) (Response, *Error) {
	reqBody := chatRequest{Model: model, Temperature: temperature, MaxTokens: maxTokens}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, &Error{Kind: ErrDecode, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, &Error{Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Response{}, &Error{Kind: ErrTimeout, Err: err}
		case errors.Is(ctx.Err(), context.Canceled):
			return Response{}, &Error{Kind: ErrCancelled, Err: err}
		default:
			return Response{}, &Error{Kind: ErrNetwork, Err: err}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Response{}, &Error{Kind: ErrHTTPStatus, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &Error{Kind: ErrDecode, Err: err}
	}
	if len(out.Choices) == 0 {
		return Response{}, &Error{Kind: ErrDecode, Err: fmt.Errorf("empty choices")}
	}

	r := Response{Content: out.Choices[0].Message.Content}
	if out.Usage != nil {
		r.HasUsage = true
		r.Usage = usage.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return r, nil
}

// Health performs the readiness probe of spec §6 (GET {endpoint}/health).
func (c *Client) Health(ctx context.Context, endpointURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
