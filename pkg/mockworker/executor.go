package mockworker

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// Executor produces completions for a batch of requests, mirroring the
// teacher's executor.GPUExecutor interface.
type Executor interface {
	Name() string
	ExecuteBatch(batch []*PendingRequest) ([]CompletionResult, error)
}

// SimulatedExecutor mimics GPU batch latency with CPU work plus sleep,
// the same model as the teacher's executor.SimulatedGPU, producing
// sublinear latency growth with batch size instead of flat per-item
// cost — batching has to look like it pays off in the mock backend too.
type SimulatedExecutor struct {
	BaseLatencyMs int
}

func NewSimulatedExecutor(baseLatencyMs int) *SimulatedExecutor {
	if baseLatencyMs <= 0 {
		baseLatencyMs = 5
	}
	return &SimulatedExecutor{BaseLatencyMs: baseLatencyMs}
}

func (s *SimulatedExecutor) Name() string { return "simulation" }

func (s *SimulatedExecutor) ExecuteBatch(batch []*PendingRequest) ([]CompletionResult, error) {
	batchSize := len(batch)
	if batchSize == 0 {
		return nil, fmt.Errorf("mockworker: empty batch")
	}

	latency := time.Duration(s.BaseLatencyMs) * time.Millisecond
	latency += time.Duration(float64(batchSize)*1.5) * time.Millisecond

	matrixWork(64)
	time.Sleep(latency)

	results := make([]CompletionResult, batchSize)
	for i, req := range batch {
		content := reply(req.Messages)
		results[i] = CompletionResult{
			Content: content,
			Usage:   usage.Estimate(req.Messages, content),
		}
	}
	return results, nil
}

// reply synthesizes a deterministic-looking completion from the last
// user message, enough to exercise callers end to end without needing
// a real model behind the endpoint.
func reply(messages []usage.Message) string {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	last = strings.TrimSpace(last)
	if last == "" {
		return "acknowledged."
	}
	if len(last) > 200 {
		last = last[:200]
	}
	return fmt.Sprintf("simulated response to: %s", last)
}

// matrixWork performs an NxN matrix multiply to create real CPU load,
// the same trick the teacher uses to make simulated batch latency
// behave like actual GPU kernel time rather than a bare sleep.
func matrixWork(n int) {
	a := make([][]float64, n)
	b := make([][]float64, n)
	c := make([][]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		b[i] = make([]float64, n)
		c[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			a[i][j] = rand.Float64()
			b[i][j] = rand.Float64()
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += a[i][k] * b[k][j]
			}
			c[i][j] = sum
		}
	}
	_ = math.Sqrt(c[0][0])
}
