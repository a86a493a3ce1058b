// Package balancer implements the GPU-aware smart load balancer of
// spec §4.C: given a set of candidate model names and the current GPU
// state, it picks one concrete dispatch target. It replaces the
// teacher's weighted-random pkg/router.pickBestWorker with the spec's
// deterministic, auditable composite-key ranking (see DESIGN.md for
// why the teacher's randomized approach was not ported).
package balancer

import (
	"fmt"
	"sort"

	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/registry"
)

// RoutingDecision is the transient result of one Decide call (spec §3).
type RoutingDecision struct {
	Model               registry.ModelEntry
	EndpointURL         string
	Rationale           string
	EstimatedLatencyMS  float64
}

// ErrNoViableTarget is returned when no candidate survives filtering
// (spec §4.C step 3, Critical pressure with no smallest-survivor).
var ErrNoViableTarget = fmt.Errorf("balancer: no viable target")

// GPUReader is the subset of gpuprobe.Probe the balancer needs.
type GPUReader interface {
	Current(deviceID string) (gpuprobe.GPUMetric, bool)
}

// Balancer decides a dispatch target given a registry snapshot and
// live GPU pressure.
type Balancer struct {
	registry        *registry.Registry
	gpu             GPUReader
	safetyReserveGB float64
}

// New builds a Balancer. safetyReserveGB is the spec §4.C default of 3GB.
func New(reg *registry.Registry, gpu GPUReader, safetyReserveGB float64) *Balancer {
	if safetyReserveGB <= 0 {
		safetyReserveGB = 3
	}
	return &Balancer{registry: reg, gpu: gpu, safetyReserveGB: safetyReserveGB}
}

// Decide runs the spec §4.C algorithm: snapshot, filter, pressure
// rules, composite-key rank, return top survivor.
func (b *Balancer) Decide(candidates []string, minContextTokens int) (RoutingDecision, error) {
	wanted := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		wanted[c] = struct{}{}
	}

	snapshot := b.registry.Snapshot()

	// Pass 1: filter by health and context window only, and group by
	// device. This grouping — not the post-headroom one — is what
	// decides which entry is "smallest on its device" for the Critical
	// override below, since the whole point of that override is to
	// protect the smallest entry from being shed by the headroom check
	// in the first place.
	preSurvivors := make([]registry.ModelEntry, 0, len(candidates))
	preByDevice := make(map[string][]registry.ModelEntry)
	for _, m := range snapshot {
		if _, ok := wanted[m.LogicalName]; !ok {
			continue
		}
		if m.State == registry.Unhealthy {
			continue
		}
		if m.MaxContextTokens < minContextTokens {
			continue
		}
		preSurvivors = append(preSurvivors, m)
		preByDevice[m.DeviceID] = append(preByDevice[m.DeviceID], m)
	}

	if len(preSurvivors) == 0 {
		return RoutingDecision{}, ErrNoViableTarget
	}

	// Step 2: VRAM headroom. The single smallest-declared-VRAM entry on
	// a device keeps eligibility even over headroom when that device is
	// under Critical pressure (spec §3: "the single smallest may still
	// receive work sequentially" — the safety reserve alone must not be
	// able to strand every candidate on an overloaded device).
	survivors := make([]registry.ModelEntry, 0, len(preSurvivors))
	byDevice := make(map[string][]registry.ModelEntry)
	for _, m := range preSurvivors {
		metric, haveMetric := b.gpu.Current(m.DeviceID)
		headroomGB := metric.TotalGB - metric.UsedGB - b.safetyReserveGB
		overHeadroom := haveMetric && m.DeclaredVRAMGB > headroomGB

		if overHeadroom {
			level := gpuprobe.PressureCritical
			if haveMetric {
				level = gpuprobe.Classify(metric)
			}
			protected := level == gpuprobe.PressureCritical && isSmallestOnDevice(m, preByDevice[m.DeviceID])
			if !protected {
				continue
			}
		}

		survivors = append(survivors, m)
		byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
	}

	if len(survivors) == 0 {
		return RoutingDecision{}, ErrNoViableTarget
	}

	// Step 1/3: thermal-escalated pressure per device; each survivor
	// is shed or kept by the level of its own device, and each device
	// is evaluated independently per spec §3/§4.C.
	rationale := "ok"
	filtered := make([]registry.ModelEntry, 0, len(survivors))
	// aboveMedianNormal marks entries surviving under Normal pressure
	// whose declared VRAM sits above their device's median. Normal
	// never drops them (only High does) — it just ranks them behind
	// their below-median siblings, per spec §4.C step 3.
	aboveMedianNormal := make(map[string]bool)
	for _, m := range survivors {
		metric, ok := b.gpu.Current(m.DeviceID)
		level := gpuprobe.PressureLow
		if ok {
			level = gpuprobe.Classify(metric)
		} else {
			level = gpuprobe.PressureCritical
		}

		switch level {
		case gpuprobe.PressureLow:
			filtered = append(filtered, m)
		case gpuprobe.PressureNormal:
			filtered = append(filtered, m)
			aboveMedianNormal[m.LogicalName] = m.DeclaredVRAMGB > medianVRAM(byDevice[m.DeviceID])
			rationale = "normal pressure: median-vram preferred"
		case gpuprobe.PressureHigh:
			if m.DeclaredVRAMGB <= medianVRAM(byDevice[m.DeviceID]) {
				filtered = append(filtered, m)
			}
			rationale = "high pressure: above-median vram dropped"
		case gpuprobe.PressureCritical:
			if isSmallestOnDevice(m, byDevice[m.DeviceID]) {
				filtered = append(filtered, m)
			}
			rationale = "critical pressure: only smallest-vram model per device retained"
		}
	}

	if len(filtered) == 0 {
		return RoutingDecision{}, ErrNoViableTarget
	}

	// Step 4: composite-key ranking with lexicographic tie-break. The
	// Normal-pressure median preference slots in just ahead of the raw
	// VRAM comparison, since it only breaks ties the rest of the key
	// doesn't already resolve.
	sort.SliceStable(filtered, func(i, j int) bool {
		a, c := filtered[i], filtered[j]
		if a.State != c.State {
			return a.State < c.State
		}
		if a.ConsecutiveFailures != c.ConsecutiveFailures {
			return a.ConsecutiveFailures < c.ConsecutiveFailures
		}
		if a.InflightCount != c.InflightCount {
			return a.InflightCount < c.InflightCount
		}
		if a.EMALatencyMS != c.EMALatencyMS {
			return a.EMALatencyMS < c.EMALatencyMS
		}
		if aboveMedianNormal[a.LogicalName] != aboveMedianNormal[c.LogicalName] {
			return !aboveMedianNormal[a.LogicalName]
		}
		if a.DeclaredVRAMGB != c.DeclaredVRAMGB {
			return a.DeclaredVRAMGB < c.DeclaredVRAMGB
		}
		return a.LogicalName < c.LogicalName
	})

	best := filtered[0]
	return RoutingDecision{
		Model:              best,
		EndpointURL:        best.EndpointURL,
		Rationale:          rationale,
		EstimatedLatencyMS: best.EMALatencyMS,
	}, nil
}

func medianVRAM(entries []registry.ModelEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	vals := make([]float64, len(entries))
	for i, e := range entries {
		vals[i] = e.DeclaredVRAMGB
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}

func isSmallestOnDevice(m registry.ModelEntry, entries []registry.ModelEntry) bool {
	for _, e := range entries {
		if e.DeclaredVRAMGB < m.DeclaredVRAMGB {
			return false
		}
	}
	return true
}
