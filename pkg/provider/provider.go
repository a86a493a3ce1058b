// Package provider implements the external-provider client of spec
// §4.E: a single bearer-token authenticated OpenAI-compatible POST,
// with no retries (the failover policy lives at the call site, spec
// §4.H). It wraps the shared pkg/upstream HTTP client — grounded on
// the evaluator repo's internal/adapter/ai/real/client.go but trimmed
// to the spec's single Complete contract, no model round-robin or key
// rotation.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kunal/llm-gateway/pkg/upstream"
	"github.com/kunal/llm-gateway/pkg/usage"
)

// ErrKind is the closed set of failure reasons Complete can return
// (spec §4.E). All are opaque to callers except Disabled, which means
// "skip, do not count as a failure".
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrDisabled
	ErrNetwork
	ErrHTTPStatus
	ErrDecode
	ErrTimeout
	ErrCancelled
)

func (k ErrKind) String() string {
	switch k {
	case ErrDisabled:
		return "Disabled"
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

func fromUpstreamKind(k upstream.ErrKind) ErrKind {
	switch k {
	case upstream.ErrNetwork:
		return ErrNetwork
	case upstream.ErrHTTPStatus:
		return ErrHTTPStatus
	case upstream.ErrDecode:
		return ErrDecode
	case upstream.ErrTimeout:
		return ErrTimeout
	case upstream.ErrCancelled:
		return ErrCancelled
	default:
		return ErrNone
	}
}

// Error wraps an ErrKind with the underlying cause.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the shape Complete returns on success.
type Response struct {
	Model   string
	Content string
	Usage   usage.Usage
}

// Client is the external-provider HTTP client.
type Client struct {
	enabled      bool
	baseURL      string
	apiKey       string
	model        string
	providerName string
	timeout      time.Duration
	upstream     *upstream.Client
}

// New builds a Client. enabled mirrors spec §6's external_llm_enabled.
func New(enabled bool, baseURL, apiKey, model, providerName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		enabled:      enabled,
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		providerName: providerName,
		timeout:      timeout,
		upstream:     upstream.New(&http.Client{}),
	}
}

// Enabled reports whether the external provider should be attempted.
func (c *Client) Enabled() bool { return c.enabled }

// ProviderName returns the configured external provider name.
func (c *Client) ProviderName() string { return c.providerName }

// ResolvedModel returns "provider_name:configured_model" (spec §4.E).
func (c *Client) ResolvedModel() string { return c.providerName + ":" + c.model }

// Complete attempts the chat request against the external provider.
// The caller's ctx deadline is intersected with the client's own
// timeout budget (spec §5: "min(task.deadline, config.default_request_timeout)").
func (c *Client) Complete(ctx context.Context, messages []usage.Message, temperature float64, maxTokens int) (Response, *Error) {
	if !c.enabled {
		return Response{}, &Error{Kind: ErrDisabled}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, uerr := c.upstream.Complete(cctx, c.baseURL, c.apiKey, c.model, messages, temperature, maxTokens)
	if uerr != nil {
		return Response{}, &Error{Kind: fromUpstreamKind(uerr.Kind), Err: uerr.Err}
	}

	u := resp.Usage
	if !resp.HasUsage {
		u = usage.Estimate(messages, resp.Content)
	}
	return Response{Model: c.ResolvedModel(), Content: resp.Content, Usage: u}, nil
}
