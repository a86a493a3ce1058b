package httpapi

import (
	"net/http"

	"github.com/kunal/llm-gateway/pkg/gpuprobe"
)

// GPUDeviceStatus is the per-device snapshot returned by GET
// /v1/gpu/status (spec §4.H).
type GPUDeviceStatus struct {
	DeviceID       string  `json:"device_id"`
	UsedGB         float64 `json:"used_gb"`
	TotalGB        float64 `json:"total_gb"`
	UtilizationPct float64 `json:"utilization_pct"`
	TemperatureC   float64 `json:"temperature_c"`
	Pressure       string  `json:"pressure"`
	Unknown        bool    `json:"unknown"`
}

// handleGPUStatus implements GET /v1/gpu/status.
func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	devices := s.GPU.Devices()
	out := make([]GPUDeviceStatus, 0, len(devices))
	for _, id := range devices {
		m, ok := s.GPU.Current(id)
		if !ok {
			continue
		}
		out = append(out, GPUDeviceStatus{
			DeviceID:       id,
			UsedGB:         m.UsedGB,
			TotalGB:        m.TotalGB,
			UtilizationPct: m.UtilizationPct,
			TemperatureC:   m.TemperatureC,
			Pressure:       gpuprobe.Classify(m).String(),
			Unknown:        m.Unknown,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ModelView is the redacted registry entry returned by GET /models
// (spec §4.H: "Public view of registry snapshot (endpoints redacted)").
type ModelView struct {
	LogicalName      string   `json:"logical_name"`
	State            string   `json:"state"`
	MaxContextTokens int      `json:"max_context_tokens"`
	PreferredFor     []string `json:"preferred_for"`
}

// handleModels implements GET /models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Registry.Snapshot()
	out := make([]ModelView, len(snapshot))
	for i, m := range snapshot {
		preferred := make([]string, len(m.PreferredFor))
		for j, p := range m.PreferredFor {
			preferred[j] = string(p)
		}
		out[i] = ModelView{
			LogicalName:      m.LogicalName,
			State:            m.State.String(),
			MaxContextTokens: m.MaxContextTokens,
			PreferredFor:     preferred,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
