// Package queue implements the asynchronous priority task queue of
// spec §4.F: priority ordering, batch collation eligibility, a
// result store with TTL, and aggregate stats. It generalizes the
// teacher's pkg/worker/queue.go (container/heap PriorityQueue) from a
// single-model FIFO-per-priority structure into the full Task/Batch
// life cycle of spec §3.
package queue

import (
	"time"

	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/usage"
)

// Status is a task's lifecycle state (spec §3). Exactly one transition
// path exists per task; no re-entry.
type Status int

const (
	StatusQueued Status = iota
	StatusBatching
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusBatching:
		return "batching"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Result is the payload of a completed task.
type Result struct {
	Content string
	Usage   usage.Usage
}

// Task is the queue's unit of work (spec §3).
type Task struct {
	ID           string
	AgentKind    types.AgentKind
	Messages     []usage.Message
	Priority     types.Priority
	MaxTokens    int
	Temperature  float64
	SubmittedAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Deadline     time.Time
	Status       Status
	ModelUsed    string
	Result       *Result
	ErrKind      string // taxonomy string from pkg/apierr, empty if none
	BatchID      string

	cancelCh chan struct{} // closed when Cancel is called on a non-terminal task
	index    int           // heap bookkeeping, guarded by PriorityQueue's mutex
}

// Cancelled reports whether the task's cooperative cancel signal has fired.
func (t *Task) Cancelled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

// TaskView is the read-only projection returned by Status/Result
// (spec §4.F).
type TaskView struct {
	TaskID          string
	Status          Status
	PositionIfQueued int // -1 if not queued
	AgentKind       types.AgentKind
	Priority        types.Priority
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ModelUsed       string
}
