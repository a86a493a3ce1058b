package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_ErrorUsesMessageWhenSet(t *testing.T) {
	err := New(KindRateLimited, "slow down")
	require.Equal(t, "slow down", err.Error())
}

func TestError_ErrorFallsBackToKindString(t *testing.T) {
	err := &Error{Kind: KindUpstreamTimeout}
	require.Equal(t, "UpstreamTimeout", err.Error())
}

func TestError_IsMatchesByKindOnly(t *testing.T) {
	err := New(KindRejectedFull, "queue full").WithRequestID("req-1")
	target := New(KindRejectedFull, "different message")
	require.True(t, errors.Is(err, target))

	other := New(KindCancelled, "queue full")
	require.False(t, errors.Is(err, other))
}

func TestError_WithRequestIDAndRetryAfter(t *testing.T) {
	err := New(KindRateLimited, "slow down").WithRequestID("req-42").WithRetryAfter(30)
	require.Equal(t, "req-42", err.RequestID)
	require.Equal(t, 30, err.RetryAfter)
}

func TestKindOf_ExtractsKindFromWrappedError(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", New(KindBackpressureRetry, "retry later"))
	require.Equal(t, KindBackpressureRetry, KindOf(err))
}

func TestKindOf_ReturnsNoneForPlainError(t *testing.T) {
	require.Equal(t, KindNone, KindOf(errors.New("plain")))
}

func TestKind_StringCoversAllValues(t *testing.T) {
	cases := map[Kind]string{
		KindNone:                       "None",
		KindAgentUnknown:               "AgentUnknown",
		KindRateLimited:                "RateLimited",
		KindRejectedFull:               "RejectedFull",
		KindBackpressureRetry:          "BackpressureRetry",
		KindUpstreamTimeout:            "UpstreamTimeout",
		KindUpstreamUnavailable:        "UpstreamUnavailable",
		KindUpstreamBadResponse:        "UpstreamBadResponse",
		KindCancelled:                  "Cancelled",
		KindInternalInvariantViolation: "InternalInvariantViolation",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}
