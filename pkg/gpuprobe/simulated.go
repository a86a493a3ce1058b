package gpuprobe

import (
	"math"
	"math/rand"
	"sync"
)

// Simulated is the default DeviceQuerier: it mimics real GPU behavior
// by correlating utilization/temperature with a caller-supplied load
// signal, the same smoothing approach as the teacher's
// MetricsCollector.simulationLoop (exponential decay toward a target,
// idle-to-full-load temperature ramp from 42°C to 80°C).
type Simulated struct {
	mu      sync.Mutex
	devices []string
	totalGB map[string]float64
	state   map[string]*simState
	loadFn  func(deviceID string) float64 // 0..100 external load signal
}

type simState struct {
	usedGB float64
	tempC  float64
	util   float64
}

// NewSimulated builds a simulated querier for the given devices, each
// with totalGB capacity. loadFn supplies an external load signal
// (e.g. inflight dispatch count) in [0,100]; if nil, load is assumed 0.
func NewSimulated(devices map[string]float64, loadFn func(string) float64) *Simulated {
	if loadFn == nil {
		loadFn = func(string) float64 { return 0 }
	}
	s := &Simulated{
		devices: make([]string, 0, len(devices)),
		totalGB: make(map[string]float64, len(devices)),
		state:   make(map[string]*simState, len(devices)),
		loadFn:  loadFn,
	}
	for id, total := range devices {
		s.devices = append(s.devices, id)
		s.totalGB[id] = total
		s.state[id] = &simState{usedGB: total * 0.05, tempC: 42.0, util: 0}
	}
	return s
}

func (s *Simulated) Devices() []string { return append([]string(nil), s.devices...) }

func (s *Simulated) Query(deviceID string) (used, total, util, temp, power float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[deviceID]
	if !ok {
		return 0, 0, 0, 0, 0, errUnknownDevice(deviceID)
	}
	total = s.totalGB[deviceID]
	load := s.loadFn(deviceID)

	targetUtil := math.Min(100, load)
	st.util = st.util*0.7 + targetUtil*0.3

	targetUsed := total*0.05 + (st.util/100.0)*(total*0.6)
	st.usedGB = math.Min(targetUsed, total-0.1)

	targetTemp := 42.0 + (st.util/100.0)*38.0
	st.tempC = st.tempC*0.9 + targetTemp*0.1 + (rand.Float64()-0.5)*0.5

	return st.usedGB, total, st.util, st.tempC, 150 + st.util*2, nil
}

type errUnknownDevice string

func (e errUnknownDevice) Error() string { return "gpuprobe: unknown device " + string(e) }

// TickOnce advances all devices once; exported for deterministic tests.
func (s *Simulated) TickOnce() {
	for _, id := range s.Devices() {
		_, _, _, _, _, _ = s.Query(id)
	}
}
