package queue

import (
	"container/heap"
	"sync"
)

// priorityHeap implements heap.Interface over *Task using the
// (priority_ordinal, submitted_at_nanos, task_id) key of spec §3 —
// the same container/heap shape as the teacher's pkg/worker/queue.go
// PriorityQueue, generalized to the richer Task type and keyed by
// submit time instead of a raw int64 timestamp field.
type priorityHeap struct {
	items []*Task
}

func (h *priorityHeap) Len() int { return len(h.items) }

func (h *priorityHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority // lower ordinal dispatches first
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}

func (h *priorityHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(h.items)
	h.items = append(h.items, t)
}

func (h *priorityHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	h.items = old[:n-1]
	return t
}

// PriorityQueue is the thread-safe wrapper around priorityHeap,
// mirroring the teacher's Enqueue/DequeueN/Depth contract.
type PriorityQueue struct {
	mu   sync.Mutex
	heap priorityHeap
	byID map[string]*Task
}

func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{byID: make(map[string]*Task)}
	heap.Init(&pq.heap)
	return pq
}

// Enqueue adds a task. Returns its 1-based position among queued tasks.
func (pq *PriorityQueue) Enqueue(t *Task) int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	heap.Push(&pq.heap, t)
	pq.byID[t.ID] = t
	return pq.positionLocked(t.ID)
}

// DequeueN removes up to n highest-priority tasks.
func (pq *PriorityQueue) DequeueN(n int) []*Task {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.heap.items) == 0 {
		return nil
	}
	if n > len(pq.heap.items) {
		n = len(pq.heap.items)
	}
	out := make([]*Task, 0, n)
	for i := 0; i < n; i++ {
		t := heap.Pop(&pq.heap).(*Task)
		delete(pq.byID, t.ID)
		out = append(out, t)
	}
	return out
}

// DequeueSameAgent removes up to n queued tasks sharing agentKind,
// preserving priority order among the ones it takes (used by the
// batch collator, spec §4.F: "groups tasks with the same agent_kind").
func (pq *PriorityQueue) DequeueSameAgent(agentKind string, n int) []*Task {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	// Pop everything, keep what matches (up to n), push back the rest.
	// Queue depths are small (capacity default 1000) so this is cheap
	// relative to a full dispatch round-trip.
	var matched, rest []*Task
	for len(pq.heap.items) > 0 {
		t := heap.Pop(&pq.heap).(*Task)
		delete(pq.byID, t.ID)
		if len(matched) < n && string(t.AgentKind) == agentKind {
			matched = append(matched, t)
		} else {
			rest = append(rest, t)
		}
	}
	for _, t := range rest {
		heap.Push(&pq.heap, t)
		pq.byID[t.ID] = t
	}
	return matched
}

// Remove removes a task by ID if still queued. Returns true if removed.
func (pq *PriorityQueue) Remove(taskID string) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	t, ok := pq.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&pq.heap, t.index)
	delete(pq.byID, taskID)
	return true
}

// Depth returns the current queue length.
func (pq *PriorityQueue) Depth() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.heap.items)
}

// Position returns the 1-based queue position of taskID, or -1.
func (pq *PriorityQueue) Position(taskID string) int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.positionLocked(taskID)
}

// positionLocked must be called with pq.mu held. It computes rank by
// the same ordering as Less, without mutating the heap.
func (pq *PriorityQueue) positionLocked(taskID string) int {
	t, ok := pq.byID[taskID]
	if !ok {
		return -1
	}
	rank := 1
	for _, other := range pq.heap.items {
		if other.ID == t.ID {
			continue
		}
		if lessTask(other, t) {
			rank++
		}
	}
	return rank
}

func lessTask(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}

// Snapshot returns every currently queued task, for stats purposes.
func (pq *PriorityQueue) Snapshot() []*Task {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	out := make([]*Task, len(pq.heap.items))
	copy(out, pq.heap.items)
	return out
}
