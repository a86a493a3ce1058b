package queue

import (
	"sync"
	"time"
)

// store is the result store keyed by task ID (spec §4.F: "results are
// retained for result_ttl after completion, then swept"). Grounded on
// the teacher's pkg/worker/queue.go result map, generalized with a
// per-entry expiry instead of a single global TTL sweep pass.
type store struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	batches map[string][]string // batch_id -> task IDs, for BatchStatus
	expired map[string]time.Time // swept task_id -> sweep time, for 410 vs 404
	ttl     time.Duration
}

func newStore(ttl time.Duration) *store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &store{
		tasks:   make(map[string]*Task),
		batches: make(map[string][]string),
		expired: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (s *store) put(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	if t.BatchID != "" {
		s.batches[t.BatchID] = append(s.batches[t.BatchID], t.ID)
	}
}

func (s *store) get(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// wasExpired reports whether taskID was once a known task whose result
// has since been swept, distinguishing "410 expired" from "404 never existed".
func (s *store) wasExpired(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.expired[taskID]
	return ok
}

func (s *store) batch(batchID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.batches[batchID]
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// sweep removes tasks whose terminal state is older than ttl. Returns
// the count removed, for Cleanup's return value (spec §4.F).
func (s *store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil {
			continue
		}
		if now.Sub(*t.CompletedAt) < s.ttl {
			continue
		}
		delete(s.tasks, id)
		s.expired[id] = now
		if t.BatchID != "" {
			ids := s.batches[t.BatchID]
			for i, bid := range ids {
				if bid == id {
					s.batches[t.BatchID] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			if len(s.batches[t.BatchID]) == 0 {
				delete(s.batches, t.BatchID)
			}
		}
		removed++
	}

	for id, swept := range s.expired {
		if now.Sub(swept) >= s.ttl {
			delete(s.expired, id)
		}
	}
	return removed
}

func (s *store) all() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}
