package queue

// Stats is the aggregate snapshot returned by Queue.Stats (spec §4.F).
type Stats struct {
	Depth            int
	DepthByPriority  map[string]int
	DepthByAgentKind map[string]int
	Batching         int
	Processing       int
	CompletedTotal   int
	FailedTotal      int
	CancelledTotal   int
}

// computeStats walks the queued snapshot to build the depth view;
// Queue.Stats then adds the Batching/Processing counts of dequeued
// tasks from the result store. Terminal counters are cumulative since
// process start (the store sweep removes old terminal tasks, but the
// counters themselves are tracked separately so Cleanup never skews
// reported totals).
func computeStats(queued []*Task, counters *counters) Stats {
	s := Stats{
		Depth:            len(queued),
		DepthByPriority:  make(map[string]int),
		DepthByAgentKind: make(map[string]int),
	}
	for _, t := range queued {
		s.DepthByPriority[t.Priority.String()]++
		s.DepthByAgentKind[string(t.AgentKind)]++
		switch t.Status {
		case StatusBatching:
			s.Batching++
		case StatusProcessing:
			s.Processing++
		}
	}
	s.CompletedTotal = counters.completed.load()
	s.FailedTotal = counters.failed.load()
	s.CancelledTotal = counters.cancelled.load()
	return s
}
