package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_SnapshotIsSortedByLogicalName(t *testing.T) {
	r := New(nil)
	r.Register(ModelEntry{LogicalName: "zeta"})
	r.Register(ModelEntry{LogicalName: "alpha"})
	r.Register(ModelEntry{LogicalName: "mu"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []string{"alpha", "mu", "zeta"}, []string{snap[0].LogicalName, snap[1].LogicalName, snap[2].LogicalName})
}

func TestRegistry_GetReturnsFalseForUnknown(t *testing.T) {
	r := New(nil)
	_, ok := r.Get("nope")
	require.False(t, ok)
}

func TestRegistry_RecordOutcomeTracksEMALatency(t *testing.T) {
	r := New(nil)
	r.Register(ModelEntry{LogicalName: "m1"})

	r.RecordOutcome("m1", true, 100)
	m, _ := r.Get("m1")
	require.Equal(t, float64(100), m.EMALatencyMS)

	r.RecordOutcome("m1", true, 200)
	m, _ = r.Get("m1")
	require.InDelta(t, 100*0.8+200*0.2, m.EMALatencyMS, 0.001)
}

func TestRegistry_RecordOutcomeDegradesThenUnhealthy(t *testing.T) {
	r := New(nil)
	r.Register(ModelEntry{LogicalName: "m1"})

	for i := 0; i < 2; i++ {
		r.RecordOutcome("m1", false, 50)
	}
	m, _ := r.Get("m1")
	require.Equal(t, Healthy, m.State)

	r.RecordOutcome("m1", false, 50)
	m, _ = r.Get("m1")
	require.Equal(t, Degraded, m.State)

	for i := 0; i < 3; i++ {
		r.RecordOutcome("m1", false, 50)
	}
	m, _ = r.Get("m1")
	require.Equal(t, Unhealthy, m.State)
	require.Equal(t, 6, m.ConsecutiveFailures)
}

func TestRegistry_RecordOutcomeSuccessRestoresHealthy(t *testing.T) {
	r := New(nil)
	r.Register(ModelEntry{LogicalName: "m1"})
	for i := 0; i < 6; i++ {
		r.RecordOutcome("m1", false, 50)
	}
	m, _ := r.Get("m1")
	require.Equal(t, Unhealthy, m.State)

	r.RecordOutcome("m1", true, 10)
	m, _ = r.Get("m1")
	require.Equal(t, Healthy, m.State)
	require.Equal(t, 0, m.ConsecutiveFailures)
}

func TestRegistry_RecordOutcomeIgnoresUnknownModel(t *testing.T) {
	r := New(nil)
	require.NotPanics(t, func() { r.RecordOutcome("ghost", true, 10) })
}

func TestRegistry_MarkInflightNeverGoesNegative(t *testing.T) {
	r := New(nil)
	r.Register(ModelEntry{LogicalName: "m1"})
	r.MarkInflight("m1", -5)
	m, _ := r.Get("m1")
	require.Equal(t, 0, m.InflightCount)

	r.MarkInflight("m1", 3)
	r.MarkInflight("m1", -1)
	m, _ = r.Get("m1")
	require.Equal(t, 2, m.InflightCount)
}

func TestRegistry_StartHealthProbeRestoresDegradedOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(server.Client())
	r.Register(ModelEntry{LogicalName: "m1", EndpointURL: server.URL})
	for i := 0; i < 6; i++ {
		r.RecordOutcome("m1", false, 10)
	}
	m, _ := r.Get("m1")
	require.Equal(t, Unhealthy, m.State)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHealthProbe(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		m, _ := r.Get("m1")
		return m.State == Degraded
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_StartHealthProbeLeavesHealthyModelsAlone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(server.Client())
	r.Register(ModelEntry{LogicalName: "m1", EndpointURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHealthProbe(ctx, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	m, _ := r.Get("m1")
	require.Equal(t, Healthy, m.State)
}
