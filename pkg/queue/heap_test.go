package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/types"
)

func newTestTask(id string, priority types.Priority, submittedAt time.Time) *Task {
	return &Task{
		ID:          id,
		Priority:    priority,
		SubmittedAt: submittedAt,
		cancelCh:    make(chan struct{}),
	}
}

func TestPriorityQueue_OrdersByPriorityThenTime(t *testing.T) {
	pq := NewPriorityQueue()
	base := time.Now()

	pq.Enqueue(newTestTask("low-1", types.PriorityLow, base))
	pq.Enqueue(newTestTask("critical-1", types.PriorityCritical, base.Add(time.Second)))
	pq.Enqueue(newTestTask("normal-1", types.PriorityNormal, base))
	pq.Enqueue(newTestTask("critical-2", types.PriorityCritical, base))

	out := pq.DequeueN(4)
	require.Len(t, out, 4)
	require.Equal(t, "critical-2", out[0].ID) // earlier submit time wins the tie
	require.Equal(t, "critical-1", out[1].ID)
	require.Equal(t, "normal-1", out[2].ID)
	require.Equal(t, "low-1", out[3].ID)
}

func TestPriorityQueue_DequeueSameAgentPreservesOthers(t *testing.T) {
	pq := NewPriorityQueue()
	base := time.Now()

	a1 := newTestTask("a1", types.PriorityNormal, base)
	a1.AgentKind = types.AgentKind("chat")
	b1 := newTestTask("b1", types.PriorityNormal, base.Add(time.Millisecond))
	b1.AgentKind = types.AgentKind("embed")
	a2 := newTestTask("a2", types.PriorityNormal, base.Add(2*time.Millisecond))
	a2.AgentKind = types.AgentKind("chat")

	pq.Enqueue(a1)
	pq.Enqueue(b1)
	pq.Enqueue(a2)

	got := pq.DequeueSameAgent("chat", 10)
	require.Len(t, got, 2)
	require.Equal(t, "a1", got[0].ID)
	require.Equal(t, "a2", got[1].ID)
	require.Equal(t, 1, pq.Depth())

	remaining := pq.DequeueN(1)
	require.Equal(t, "b1", remaining[0].ID)
}

func TestPriorityQueue_RemoveAndPosition(t *testing.T) {
	pq := NewPriorityQueue()
	base := time.Now()
	t1 := newTestTask("t1", types.PriorityNormal, base)
	t2 := newTestTask("t2", types.PriorityNormal, base.Add(time.Millisecond))
	pq.Enqueue(t1)
	pq.Enqueue(t2)

	require.Equal(t, 2, pq.Position("t2"))
	require.True(t, pq.Remove("t1"))
	require.False(t, pq.Remove("t1"))
	require.Equal(t, 1, pq.Depth())
	require.Equal(t, 1, pq.Position("t2"))
}
