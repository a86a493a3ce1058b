package httpapi

import (
	"time"

	"github.com/kunal/llm-gateway/pkg/types"
)

// defaultDispatchLatencyMS is used when no candidate model for an
// agent kind has recorded an EMA latency yet (cold start).
const defaultDispatchLatencyMS = 250.0

// estimateWaitMS gives a caller a rough expected wait for a freshly
// submitted task at queue position (1-based), averaging the EMA
// latency across the agent kind's configured candidate models. This
// is advisory only — the queue's own adaptive collation window is the
// actual scheduling mechanism (pkg/dispatch).
func (s *Server) estimateWaitMS(kind types.AgentKind, position int) int {
	candidates, err := s.AgentRouter.Candidates(kind)
	if err != nil || len(candidates) == 0 {
		return position * int(defaultDispatchLatencyMS)
	}

	total := 0.0
	n := 0
	for _, name := range candidates {
		m, ok := s.Registry.Get(name)
		if !ok || m.EMALatencyMS == 0 {
			continue
		}
		total += m.EMALatencyMS
		n++
	}
	if n == 0 {
		return position * int(defaultDispatchLatencyMS)
	}
	return position * int(total/float64(n))
}

func deadlineOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
