// Package dispatch implements the batch collator and worker pool of
// spec §4.F/§4.I: it drains the priority queue per agent_kind,
// resolves a dispatch target via pkg/agentrouter + pkg/balancer, and
// executes each task against the chosen model (falling back through
// remaining candidates, then the external provider) with a bounded
// retry budget. Grounded on the teacher's pkg/worker/batcher.go
// collation loop, generalized from a single GPU executor to a
// per-agent-kind fan-out over HTTP-backed models.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kunal/llm-gateway/pkg/agentrouter"
	"github.com/kunal/llm-gateway/pkg/apierr"
	"github.com/kunal/llm-gateway/pkg/balancer"
	"github.com/kunal/llm-gateway/pkg/provider"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/upstream"
	"github.com/kunal/llm-gateway/pkg/usage"
)

// Config tunes the collator (spec §4.F/§6).
type Config struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
	RetryBudget  int
	Concurrency  int // max in-flight task dispatches per agent kind worker
}

// Dispatcher owns one collator goroutine per agent_kind and the
// upstream HTTP client used to reach the worker models; on exhaustion
// it falls back to the external provider, which has its own client.
type Dispatcher struct {
	cfg      Config
	q        *queue.Queue
	router   *agentrouter.Router
	balancer *balancer.Balancer
	registry *registry.Registry
	provider *provider.Client
	upstream *upstream.Client
	log      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	// adaptive wait, mirrors the teacher's Batcher.currentWait — one
	// entry per agent kind since kinds can see very different depths.
	waitMu sync.Mutex
	wait   map[types.AgentKind]time.Duration
}

func New(cfg Config, q *queue.Queue, router *agentrouter.Router, bal *balancer.Balancer, reg *registry.Registry, prov *provider.Client, log *slog.Logger) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 8
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 100 * time.Millisecond
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		q:        q,
		router:   router,
		balancer: bal,
		registry: reg,
		provider: prov,
		upstream: upstream.New(nil),
		log:      log,
		stopCh:   make(chan struct{}),
		wait:     make(map[types.AgentKind]time.Duration),
	}
}

// Start launches one collator goroutine per agent kind declared in
// kinds (the configured agent_map's keys).
func (d *Dispatcher) Start(kinds []types.AgentKind) {
	for _, k := range kinds {
		d.wg.Add(1)
		go d.collate(k)
		d.log.Info("dispatch collator started", "agent_kind", k, "max_batch", d.cfg.MaxBatchSize, "max_wait", d.cfg.MaxWaitTime)
	}
}

// Stop signals every collator to drain and exit, then waits.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) currentWait(kind types.AgentKind) time.Duration {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	if w, ok := d.wait[kind]; ok {
		return w
	}
	return d.cfg.MaxWaitTime
}

func (d *Dispatcher) adaptWait(kind types.AgentKind, depth int) {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	switch {
	case depth > 100:
		d.wait[kind] = 20 * time.Millisecond
	case depth < 10:
		d.wait[kind] = 80 * time.Millisecond
	default:
		d.wait[kind] = d.cfg.MaxWaitTime
	}
}

func (d *Dispatcher) collate(kind types.AgentKind) {
	defer d.wg.Done()
	notify := d.q.Subscribe(kind)

	for {
		select {
		case <-d.stopCh:
			d.drainRemaining(kind)
			return
		case <-notify:
		}

		batch := d.collectBatch(kind, notify)
		if len(batch) == 0 {
			continue
		}
		d.executeBatch(kind, batch)
	}
}

func (d *Dispatcher) collectBatch(kind types.AgentKind, notify <-chan struct{}) []*queue.Task {
	wait := d.currentWait(kind)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if n := d.q.Stats().DepthByAgentKind[string(kind)]; n >= d.cfg.MaxBatchSize {
			return d.q.DequeueAgent(string(kind), d.cfg.MaxBatchSize)
		}

		select {
		case <-d.stopCh:
			return d.q.DequeueAgent(string(kind), d.cfg.MaxBatchSize)
		case <-timer.C:
			return d.q.DequeueAgent(string(kind), d.cfg.MaxBatchSize)
		case <-notify:
			if d.q.Stats().DepthByAgentKind[string(kind)] >= d.cfg.MaxBatchSize {
				return d.q.DequeueAgent(string(kind), d.cfg.MaxBatchSize)
			}
			continue
		}
	}
}

func (d *Dispatcher) drainRemaining(kind types.AgentKind) {
	for {
		batch := d.q.DequeueAgent(string(kind), d.cfg.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		d.executeBatch(kind, batch)
	}
}

// executeBatch marks every task Batching, then fans each out to its
// own goroutine bounded by cfg.Concurrency — a collation window groups
// same-kind arrivals for one balancer decision, but each prompt still
// makes its own upstream HTTP call (spec §1: no server-side tensor
// batching across distinct prompts).
func (d *Dispatcher) executeBatch(kind types.AgentKind, batch []*queue.Task) {
	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, t := range batch {
		if t.Cancelled() {
			d.q.MarkCancelledFinal(t)
			continue
		}
		d.q.MarkBatching(t)

		wg.Add(1)
		sem <- struct{}{}
		go func(t *queue.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatchOne(kind, t)
		}(t)
	}
	wg.Wait()
	d.adaptWait(kind, d.q.Stats().DepthByAgentKind[string(kind)])
}

// dispatchOne runs the full candidate-fallback + retry-budget pipeline
// of spec §4.F/§4.I for one task, then finalizes it in the queue. On
// transient balancer backpressure it requeues the task instead of
// failing it — only the synchronous handler surfaces BackpressureRetry
// directly to the caller; the async collator keeps retrying until the
// task's own deadline passes.
func (d *Dispatcher) dispatchOne(kind types.AgentKind, t *queue.Task) {
	ctx, cancel := context.WithDeadline(context.Background(), t.Deadline)
	defer cancel()

	result, model, rerr := d.Resolve(ctx, kind, t.Messages, t.Temperature, t.MaxTokens, t.SubmittedAt, t.Cancelled)
	switch {
	case rerr == nil:
		d.q.MarkCompleted(t, model, result)
	case rerr.Kind == apierr.KindCancelled:
		d.q.MarkCancelledFinal(t)
	case rerr.Kind == apierr.KindBackpressureRetry && time.Now().Before(t.Deadline):
		d.q.Requeue(t)
	default:
		d.q.MarkFailed(t, rerr.Kind.String())
	}
}

// Resolve runs the candidate-fallback + retry-budget pipeline of spec
// §4.C/§4.D/§4.I against local workers, then the external provider,
// independent of the queue — used both by the async collator above
// and directly by the synchronous /v1/chat/completions handler (spec
// §4.H), so the two paths never diverge in routing behavior.
func (d *Dispatcher) Resolve(ctx context.Context, kind types.AgentKind, messages []usage.Message, temperature float64, maxTokens int, startedAt time.Time, cancelled func() bool) (queue.Result, string, *apierr.Error) {
	minContext := usage.EstimatePrompt(messages) + maxTokens

	candidates, err := d.router.CandidatesForContext(kind, minContext)
	if err != nil || len(candidates) == 0 {
		return d.resolveWithProvider(ctx, messages, temperature, maxTokens, apierr.KindAgentUnknown)
	}

	remaining := candidates
	lastKind := apierr.KindNone
	for len(remaining) > 0 {
		if cancelled != nil && cancelled() {
			return queue.Result{}, "", apierr.New(apierr.KindCancelled, "task was cancelled")
		}

		decision, derr := d.balancer.Decide(remaining, minContext)
		if derr != nil {
			lastKind = apierr.KindBackpressureRetry
			break
		}

		if cached, model, ok := d.q.CacheLookup(kind, decision.Model.LogicalName, messages); ok && temperature <= 0.1 {
			return cached, model, nil
		}

		d.registry.MarkInflight(decision.Model.LogicalName, 1)
		resp, k := d.callWithRetry(ctx, messages, temperature, maxTokens, decision.EndpointURL, decision.Model.LogicalName)
		d.registry.MarkInflight(decision.Model.LogicalName, -1)

		if k == apierr.KindNone {
			d.registry.RecordOutcome(decision.Model.LogicalName, true, time.Since(startedAt).Seconds()*1000)
			d.q.CachePut(kind, decision.Model.LogicalName, messages, resp)
			return resp, decision.Model.LogicalName, nil
		}

		d.registry.RecordOutcome(decision.Model.LogicalName, false, 0)
		lastKind = k

		next := remaining[:0:0]
		for _, c := range remaining {
			if c != decision.Model.LogicalName {
				next = append(next, c)
			}
		}
		remaining = next
	}

	return d.resolveWithProvider(ctx, messages, temperature, maxTokens, lastKind)
}

// resolveWithProvider attempts the external failover path of spec
// §4.E when every worker candidate has been exhausted.
func (d *Dispatcher) resolveWithProvider(ctx context.Context, messages []usage.Message, temperature float64, maxTokens int, fallbackKind apierr.Kind) (queue.Result, string, *apierr.Error) {
	if d.provider.Enabled() {
		resp, perr := d.provider.Complete(ctx, messages, temperature, maxTokens)
		if perr == nil {
			return queue.Result{Content: resp.Content, Usage: resp.Usage}, resp.Model, nil
		}
		d.log.Info("external provider failed", "error", perr)
	}
	if fallbackKind == apierr.KindNone {
		fallbackKind = apierr.KindUpstreamUnavailable
	}
	return queue.Result{}, "", apierr.New(fallbackKind, "no viable dispatch target")
}

// callWithRetry bounds retries to cfg.RetryBudget attempts (spec §4.I:
// "a small, bounded number of attempts — never exponential-forever").
func (d *Dispatcher) callWithRetry(ctx context.Context, messages []usage.Message, temperature float64, maxTokens int, endpointURL, model string) (queue.Result, apierr.Kind) {
	var result queue.Result
	var finalKind apierr.Kind

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.cfg.RetryBudget))
	policy = backoff.WithContext(policy, ctx)

	op := func() error {
		resp, uerr := d.upstream.Complete(ctx, endpointURL, "", model, messages, temperature, maxTokens)
		if uerr == nil {
			u := resp.Usage
			if !resp.HasUsage {
				u = usage.Estimate(messages, resp.Content)
			}
			result = queue.Result{Content: resp.Content, Usage: u}
			finalKind = apierr.KindNone
			return nil
		}

		switch uerr.Kind {
		case upstream.ErrTimeout:
			finalKind = apierr.KindUpstreamTimeout
			return uerr.Err // retryable
		case upstream.ErrCancelled:
			finalKind = apierr.KindCancelled
			return backoff.Permanent(uerr.Err)
		case upstream.ErrHTTPStatus:
			finalKind = apierr.KindUpstreamBadResponse
			return backoff.Permanent(uerr.Err)
		case upstream.ErrDecode:
			finalKind = apierr.KindUpstreamBadResponse
			return backoff.Permanent(uerr.Err)
		default:
			finalKind = apierr.KindUpstreamUnavailable
			return uerr.Err // retryable
		}
	}

	if err := backoff.Retry(op, policy); err != nil && finalKind == apierr.KindNone {
		finalKind = apierr.KindUpstreamUnavailable
	}
	return result, finalKind
}
