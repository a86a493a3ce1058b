package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kunal/llm-gateway/pkg/apierr"
	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/usage"
)

// Sentinel errors distinguishing the three "can't answer" outcomes a
// caller can hit against a task_id or batch_id (spec §6: 404 unknown,
// 409 not yet ready, 410 expired/swept). pkg/httpapi maps these with
// errors.Is rather than inspecting the apierr taxonomy, since they are
// about the result store's bookkeeping, not the task's own outcome.
var (
	ErrNotFound = errors.New("queue: task not found")
	ErrExpired  = errors.New("queue: task result expired")
	ErrNotReady = errors.New("queue: task not yet complete")
)

// SubmitRequest is the caller-supplied shape for one task (spec §4.F
// Submit/SubmitBatch).
type SubmitRequest struct {
	AgentKind   types.AgentKind
	Messages    []usage.Message
	Priority    types.Priority
	MaxTokens   int
	Temperature float64
	Deadline    time.Duration // relative to submit time; 0 means config default
}

// Queue is the asynchronous priority task queue of spec §4.F: a
// bounded heap of pending work, a result store with TTL, a response
// cache, and cumulative stats. Generalizes the teacher's
// pkg/worker/queue.go single-model queue into the full multi-agent
// Task/Batch life cycle.
type Queue struct {
	pq            *PriorityQueue
	store         *store
	cache         *responseCache
	counters      counters
	capacity      int
	defaultDeadln time.Duration

	notifyMu sync.Mutex
	notify   map[types.AgentKind]chan struct{}
}

// New builds a Queue. capacity bounds the number of pending
// (non-terminal: queued, batching or processing) tasks (spec §4.F: "RejectedFull once
// queue_capacity pending tasks are outstanding").
func New(capacity int, resultTTL, cacheTTL, defaultDeadline time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultDeadline <= 0 {
		defaultDeadline = 30 * time.Second
	}
	return &Queue{
		pq:            NewPriorityQueue(),
		store:         newStore(resultTTL),
		cache:         newResponseCache(cacheTTL),
		capacity:      capacity,
		defaultDeadln: defaultDeadline,
		notify:        make(map[types.AgentKind]chan struct{}),
	}
}

// Subscribe returns the wakeup channel for an agent kind, creating it
// on first use. The dispatcher's per-kind collator selects on this
// channel the way the teacher's Batcher selects on its notify channel.
func (q *Queue) Subscribe(kind types.AgentKind) <-chan struct{} {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	ch, ok := q.notify[kind]
	if !ok {
		ch = make(chan struct{}, 256)
		q.notify[kind] = ch
	}
	return ch
}

func (q *Queue) signal(kind types.AgentKind) {
	q.notifyMu.Lock()
	ch, ok := q.notify[kind]
	q.notifyMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// pending reports the number of tasks counted against queue_capacity:
// those still queued plus those currently batching or processing.
func (q *Queue) pending() int {
	n := q.pq.Depth()
	for _, t := range q.store.all() {
		if t.Status == StatusBatching || t.Status == StatusProcessing {
			n++
		}
	}
	return n
}

func (q *Queue) newTask(req SubmitRequest, batchID string) *Task {
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = q.defaultDeadln
	}
	now := time.Now()
	return &Task{
		ID:          uuid.NewString(),
		AgentKind:   req.AgentKind,
		Messages:    req.Messages,
		Priority:    req.Priority,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		SubmittedAt: now,
		Deadline:    now.Add(deadline),
		Status:      StatusQueued,
		BatchID:     batchID,
		cancelCh:    make(chan struct{}),
	}
}

// Submit enqueues a single task (spec §4.F). Returns RejectedFull once
// queue_capacity is reached.
func (q *Queue) Submit(req SubmitRequest) (TaskView, error) {
	if q.pending() >= q.capacity {
		return TaskView{}, apierr.New(apierr.KindRejectedFull, "queue at capacity").WithRetryAfter(1)
	}
	t := q.newTask(req, "")
	pos := q.pq.Enqueue(t)
	q.store.put(t)
	q.signal(req.AgentKind)
	return q.viewOf(t, pos), nil
}

// SubmitBatch enqueues a set of tasks atomically (spec §4.F: "either
// every task in the batch is admitted, or none are — a batch never
// partially fails capacity admission"). All tasks share a batch_id.
func (q *Queue) SubmitBatch(reqs []SubmitRequest) ([]TaskView, error) {
	if len(reqs) == 0 {
		return nil, apierr.New(apierr.KindInternalInvariantViolation, "empty batch")
	}
	if q.pending()+len(reqs) > q.capacity {
		return nil, apierr.New(apierr.KindRejectedFull, "batch would exceed queue capacity").WithRetryAfter(1)
	}

	batchID := uuid.NewString()
	tasks := make([]*Task, len(reqs))
	for i, r := range reqs {
		tasks[i] = q.newTask(r, batchID)
	}

	signalled := make(map[types.AgentKind]bool, len(tasks))
	views := make([]TaskView, len(tasks))
	for i, t := range tasks {
		pos := q.pq.Enqueue(t)
		q.store.put(t)
		views[i] = q.viewOf(t, pos)
		if !signalled[t.AgentKind] {
			q.signal(t.AgentKind)
			signalled[t.AgentKind] = true
		}
	}
	return views, nil
}

func (q *Queue) viewOf(t *Task, position int) TaskView {
	return TaskView{
		TaskID:           t.ID,
		Status:           t.Status,
		PositionIfQueued: position,
		AgentKind:        t.AgentKind,
		Priority:         t.Priority,
		CreatedAt:        t.SubmittedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
		ModelUsed:        t.ModelUsed,
	}
}

// Status returns the current view of a task (spec §4.F).
func (q *Queue) Status(taskID string) (TaskView, error) {
	t, ok := q.store.get(taskID)
	if !ok {
		if q.store.wasExpired(taskID) {
			return TaskView{}, ErrExpired
		}
		return TaskView{}, ErrNotFound
	}
	pos := -1
	if t.Status == StatusQueued {
		pos = q.pq.Position(taskID)
	}
	return q.viewOf(t, pos), nil
}

// Result returns the task's terminal result. Returns ErrNotFound/ErrExpired
// for an unknown/swept task_id, apierr.KindCancelled if the task was
// cancelled, and ErrNotReady (with the task's current, non-terminal
// view and a nil Result) when the task exists but hasn't finished.
func (q *Queue) Result(taskID string) (TaskView, *Result, error) {
	t, ok := q.store.get(taskID)
	if !ok {
		if q.store.wasExpired(taskID) {
			return TaskView{}, nil, ErrExpired
		}
		return TaskView{}, nil, ErrNotFound
	}
	view := q.viewOf(t, -1)
	if !t.Status.Terminal() {
		return view, nil, ErrNotReady
	}
	if t.Status == StatusCancelled {
		return view, nil, apierr.New(apierr.KindCancelled, "task was cancelled").WithRequestID(taskID)
	}
	return view, t.Result, nil
}

// Cancel marks a task cancelled if it has not yet started processing
// (spec §4.F: "cancellable while Queued or Batching; cancellation of a
// Processing task is best-effort via the cooperative cancelCh").
// Cancelling a task already in a terminal state is a no-op, not an
// error — cancellation is idempotent.
func (q *Queue) Cancel(taskID string) error {
	t, ok := q.store.get(taskID)
	if !ok {
		if q.store.wasExpired(taskID) {
			return ErrExpired
		}
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return nil
	}

	select {
	case <-t.cancelCh:
		// already signalled
	default:
		close(t.cancelCh)
	}

	if t.Status == StatusQueued {
		q.pq.Remove(taskID)
		now := time.Now()
		t.Status = StatusCancelled
		t.CompletedAt = &now
		q.counters.cancelled.inc()
	}
	// If Batching or Processing, the dispatcher observes Cancelled()
	// on its next cooperative check point and finalizes the status.
	return nil
}

// BatchStatus returns every task view belonging to a batch_id.
func (q *Queue) BatchStatus(batchID string) ([]TaskView, error) {
	tasks := q.store.batch(batchID)
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	views := make([]TaskView, len(tasks))
	for i, t := range tasks {
		pos := -1
		if t.Status == StatusQueued {
			pos = q.pq.Position(t.ID)
		}
		views[i] = q.viewOf(t, pos)
	}
	return views, nil
}

// Stats returns the aggregate snapshot of spec §4.F.
func (q *Queue) Stats() Stats {
	s := computeStats(q.pq.Snapshot(), &q.counters)
	for _, t := range q.store.all() {
		switch t.Status {
		case StatusBatching:
			s.Batching++
		case StatusProcessing:
			s.Processing++
		}
	}
	return s
}

// Health reports whether the queue is accepting work, i.e. below
// capacity (spec §4.H /v1/async/health).
func (q *Queue) Health() bool {
	return q.pending() < q.capacity
}

// Cleanup sweeps expired result-store entries and cache entries,
// returning the total removed (spec §4.F, run on config.CleanupEvery).
func (q *Queue) Cleanup() int {
	now := time.Now()
	return q.store.sweep(now) + q.cache.sweep(now)
}

// CacheLookup checks the response cache for a prior answer to an
// identical (agent_kind, model, messages) key. Callers should skip
// the cache entirely for temperature above the near-deterministic
// threshold (spec's supplemented response-cache feature).
func (q *Queue) CacheLookup(agentKind types.AgentKind, model string, messages []usage.Message) (Result, string, bool) {
	return q.cache.get(cacheKey(string(agentKind), model, messages))
}

// CachePut records a completed answer for future CacheLookup calls.
func (q *Queue) CachePut(agentKind types.AgentKind, model string, messages []usage.Message, result Result) {
	q.cache.put(cacheKey(string(agentKind), model, messages), result, model)
}

// MarkBatching transitions a dequeued task to Batching, used by the
// collator while it waits for more same-agent arrivals or the window
// to close (spec §4.F).
func (q *Queue) MarkBatching(t *Task) {
	t.Status = StatusBatching
}

// MarkProcessing transitions a task to Processing right before
// dispatch and stamps StartedAt.
func (q *Queue) MarkProcessing(t *Task) {
	now := time.Now()
	t.StartedAt = &now
	t.Status = StatusProcessing
}

// MarkCompleted finalizes a task with a result.
func (q *Queue) MarkCompleted(t *Task, modelUsed string, result Result) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusCompleted
	t.ModelUsed = modelUsed
	t.Result = &result
	q.counters.completed.inc()
}

// MarkFailed finalizes a task with a taxonomy error kind.
func (q *Queue) MarkFailed(t *Task, errKind string) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusFailed
	t.ErrKind = errKind
	q.counters.failed.inc()
}

// Requeue returns a Batching task to the pending heap after a
// transient backpressure signal instead of finalizing it (spec §4.I:
// the async path keeps a task Queued and retries it once pressure
// eases, rather than failing it outright).
func (q *Queue) Requeue(t *Task) {
	t.Status = StatusQueued
	q.pq.Enqueue(t)
	q.signal(t.AgentKind)
}

// MarkCancelledFinal finalizes a task that was observed cancelled
// mid-dispatch (Batching/Processing cancellation, spec §4.F).
func (q *Queue) MarkCancelledFinal(t *Task) {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusCancelled
	q.counters.cancelled.inc()
}

// Dequeue exposes the underlying priority heap's dequeue operations to
// the dispatcher (pkg/dispatch), which owns collation and execution.
func (q *Queue) Dequeue(n int) []*Task               { return q.pq.DequeueN(n) }
func (q *Queue) DequeueAgent(kind string, n int) []*Task { return q.pq.DequeueSameAgent(kind, n) }
