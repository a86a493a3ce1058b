// Package mockworker implements a standalone OpenAI-compatible backend
// that stands in for the out-of-scope worker process (spec §6: workers
// are external collaborators this module never implements for real).
// It exists for local/dev/e2e exercise of pkg/upstream, pkg/dispatch,
// and pkg/provider against a live HTTP endpoint instead of a live GPU.
//
// Grounded on the teacher's pkg/worker: PendingRequest/PriorityQueue
// (pkg/worker/queue.go), Batcher (pkg/worker/batcher.go), and
// SimulatedGPU (pkg/worker/executor/simulation.go), with the priority
// dimension dropped — a mock backend serving plain HTTP requests has
// no notion of request priority, only arrival order, so the teacher's
// container/heap priority queue collapses to a plain FIFO slice.
package mockworker

import (
	"sync"
	"time"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// PendingRequest wraps one chat-completion call with channels the
// caller blocks on until the batcher produces a result.
type PendingRequest struct {
	Messages  []usage.Message
	MaxTokens int
	DoneCh    chan CompletionResult
	ErrCh     chan error
	EnqueueAt time.Time
}

// CompletionResult is what the batcher hands back to a pending caller.
type CompletionResult struct {
	Content string
	Usage   usage.Usage
}

// FIFOQueue is a thread-safe arrival-ordered queue of pending requests.
type FIFOQueue struct {
	mu    sync.Mutex
	items []*PendingRequest
}

func NewFIFOQueue() *FIFOQueue {
	return &FIFOQueue{items: make([]*PendingRequest, 0, 64)}
}

// Enqueue appends a request to the back of the queue.
func (q *FIFOQueue) Enqueue(req *PendingRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
}

// DequeueN removes up to n requests from the front of the queue.
func (q *FIFOQueue) DequeueN(n int) []*PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	out := q.items[:n]
	q.items = q.items[n:]
	return out
}

// Depth returns the current queue length.
func (q *FIFOQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
