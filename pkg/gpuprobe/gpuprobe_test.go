package gpuprobe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify_MemoryRatioThresholds(t *testing.T) {
	cases := []struct {
		name  string
		used  float64
		total float64
		want  PressureLevel
	}{
		{"low", 40, 100, PressureLow},
		{"normal", 60, 100, PressureNormal},
		{"high", 80, 100, PressureHigh},
		{"critical", 90, 100, PressureCritical},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := GPUMetric{UsedGB: c.used, TotalGB: c.total, TemperatureC: 50}
			require.Equal(t, c.want, Classify(m))
		})
	}
}

func TestClassify_ThermalOverridePromotesOneLevel(t *testing.T) {
	m := GPUMetric{UsedGB: 40, TotalGB: 100, TemperatureC: 82}
	require.Equal(t, PressureNormal, Classify(m))
}

func TestClassify_ThermalOverrideForcesCriticalAbove85(t *testing.T) {
	m := GPUMetric{UsedGB: 10, TotalGB: 100, TemperatureC: 90}
	require.Equal(t, PressureCritical, Classify(m))
}

func TestClassify_UnknownSampleIsAlwaysCritical(t *testing.T) {
	m := GPUMetric{Unknown: true}
	require.Equal(t, PressureCritical, Classify(m))
}

func TestSimulated_QueryUnknownDeviceReturnsError(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24}, nil)
	_, _, _, _, _, err := s.Query("gpu1")
	require.Error(t, err)
}

func TestSimulated_QueryStaysWithinCapacity(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24}, func(string) float64 { return 100 })
	for i := 0; i < 20; i++ {
		s.TickOnce()
	}
	used, total, util, _, _, err := s.Query("gpu0")
	require.NoError(t, err)
	require.LessOrEqual(t, used, total)
	require.GreaterOrEqual(t, util, float64(0))
}

func TestProbe_SamplesImmediatelyOnStart(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24}, nil)
	p := New(s, time.Hour)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		_, ok := p.Current("gpu0")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestProbe_CurrentUnknownDeviceReturnsFalse(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24}, nil)
	p := New(s, time.Hour)
	_, ok := p.Current("ghost")
	require.False(t, ok)
}

func TestProbe_HistoryCapsAtHistoryCap(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24}, nil)
	p := New(s, time.Millisecond)
	p.Start()
	time.Sleep(250 * time.Millisecond)
	p.Stop()

	hist := p.History("gpu0", 1000)
	require.LessOrEqual(t, len(hist), historyCap)
	require.NotEmpty(t, hist)
}

func TestProbe_DevicesDelegatesToQuerier(t *testing.T) {
	s := NewSimulated(map[string]float64{"gpu0": 24, "gpu1": 16}, nil)
	p := New(s, time.Hour)
	require.ElementsMatch(t, []string{"gpu0", "gpu1"}, p.Devices())
}
