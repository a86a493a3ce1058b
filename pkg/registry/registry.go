// Package registry is the authoritative directory of configured models
// and their live health (spec §4.B). It generalizes the teacher's
// pkg/router/registry.go (WorkerEntry/FailCount/Healthy) into the
// three-state health machine and EMA latency tracking of spec §3/§4.B.
package registry

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kunal/llm-gateway/pkg/types"
)

// State is a model's health state (spec §3).
type State int

const (
	Healthy State = iota
	Degraded
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// ModelEntry is the registry's record for one logical model (spec §3).
// The registry owns mutation; all other components hold immutable
// snapshots obtained via Snapshot.
type ModelEntry struct {
	LogicalName      string
	EndpointURL      string
	DeviceID         string
	DeclaredVRAMGB   float64
	MaxContextTokens int
	PreferredFor     []types.AgentKind

	State               State
	EMALatencyMS        float64
	ConsecutiveFailures int
	InflightCount       int
}

type entry struct {
	mu sync.Mutex
	ModelEntry
}

// Registry is the live, mutable directory. Construct with New and
// Register each configured model before serving traffic.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	client  *http.Client
}

// New creates an empty Registry. httpClient is used for the periodic
// readiness probe (spec §4.B); pass nil to use a sane default.
func New(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &Registry{entries: make(map[string]*entry), client: httpClient}
}

// Register adds a model entry at startup.
func (r *Registry) Register(m ModelEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m.LogicalName] = &entry{ModelEntry: m}
}

// Snapshot returns an immutable copy of every registered entry,
// ordered by logical name for deterministic iteration.
func (r *Registry) Snapshot() []ModelEntry {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]ModelEntry, 0, len(names))
	for _, n := range names {
		r.mu.RLock()
		e := r.entries[n]
		r.mu.RUnlock()
		e.mu.Lock()
		out = append(out, e.ModelEntry)
		e.mu.Unlock()
	}
	return out
}

// Get returns a single entry snapshot.
func (r *Registry) Get(logicalName string) (ModelEntry, bool) {
	r.mu.RLock()
	e, ok := r.entries[logicalName]
	r.mu.RUnlock()
	if !ok {
		return ModelEntry{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ModelEntry, true
}

// RecordOutcome updates EMA latency (smoothing factor 0.2) and the
// health state machine per spec §4.B: ≥3 consecutive failures ⇒
// Degraded, ≥6 ⇒ Unhealthy; a single success restores Healthy.
func (r *Registry) RecordOutcome(logicalName string, success bool, latencyMS float64) {
	r.mu.RLock()
	e, ok := r.entries[logicalName]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.EMALatencyMS == 0 {
		e.EMALatencyMS = latencyMS
	} else {
		e.EMALatencyMS = e.EMALatencyMS*0.8 + latencyMS*0.2
	}

	if success {
		e.ConsecutiveFailures = 0
		e.State = Healthy
		return
	}

	e.ConsecutiveFailures++
	switch {
	case e.ConsecutiveFailures >= 6:
		e.State = Unhealthy
	case e.ConsecutiveFailures >= 3:
		e.State = Degraded
	}
}

// MarkInflight adjusts the live in-flight dispatch count for a model
// by delta (+1 on dispatch start, -1 on terminal status).
func (r *Registry) MarkInflight(logicalName string, delta int) {
	r.mu.RLock()
	e, ok := r.entries[logicalName]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.InflightCount += delta
	if e.InflightCount < 0 {
		e.InflightCount = 0
	}
	e.mu.Unlock()
}

// StartHealthProbe launches the periodic readiness probe (spec §4.B,
// cadence 30s default): a cheap GET {endpoint}/health against every
// Unhealthy entry. A pass restores Degraded, from which one more
// successful dispatch (via RecordOutcome) restores Healthy.
func (r *Registry) StartHealthProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeUnhealthy(ctx)
			}
		}
	}()
}

func (r *Registry) probeUnhealthy(ctx context.Context) {
	for _, m := range r.Snapshot() {
		if m.State != Unhealthy {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.EndpointURL+"/health", nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := r.client.Do(req)
		cancel()
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			continue
		}
		resp.Body.Close()

		r.mu.RLock()
		e, ok := r.entries[m.LogicalName]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.State == Unhealthy {
			e.State = Degraded
			log.Printf("🩺 model %s passed readiness probe, restored to degraded", m.LogicalName)
		}
		e.mu.Unlock()
	}
}
