package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/usage"
)

func TestClient_CompleteDisabledReturnsErrDisabled(t *testing.T) {
	c := New(false, "http://unused", "", "m1", "external", 0)
	_, err := c.Complete(context.Background(), []usage.Message{{Role: "user", Content: "hi"}}, 0, 10)
	require.NotNil(t, err)
	require.Equal(t, ErrDisabled, err.Kind)
}

func TestClient_CompleteSuccessEstimatesUsageWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "reply text"}}},
		})
	}))
	defer server.Close()

	c := New(true, server.URL, "key", "gpt-mock", "acme", 0)
	resp, err := c.Complete(context.Background(), []usage.Message{{Role: "user", Content: "hi"}}, 0.2, 50)
	require.Nil(t, err)
	require.Equal(t, "acme:gpt-mock", resp.Model)
	require.Equal(t, "reply text", resp.Content)
	require.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestClient_CompleteMapsUpstreamHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(true, server.URL, "", "m1", "acme", 0)
	_, err := c.Complete(context.Background(), []usage.Message{{Role: "user", Content: "hi"}}, 0, 10)
	require.NotNil(t, err)
	require.Equal(t, ErrHTTPStatus, err.Kind)
}

func TestClient_ResolvedModelFormat(t *testing.T) {
	c := New(true, "http://x", "", "gpt-4", "openai", 0)
	require.Equal(t, "openai:gpt-4", c.ResolvedModel())
}

func TestClient_EnabledReflectsConstructorArg(t *testing.T) {
	require.True(t, New(true, "", "", "", "", 0).Enabled())
	require.False(t, New(false, "", "", "", "", 0).Enabled())
}

func TestErrKind_StringCoversAllValues(t *testing.T) {
	cases := map[ErrKind]string{
		ErrNone:       "None",
		ErrDisabled:   "Disabled",
		ErrNetwork:    "Network",
		ErrHTTPStatus: "HttpStatus",
		ErrDecode:     "Decode",
		ErrTimeout:    "Timeout",
		ErrCancelled:  "Cancelled",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}
