package mockworker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatcherConfig holds tunable batching parameters, the same three
// knobs as the teacher's BatcherConfig minus MinBatchSize (unused
// there too — the batcher always flushes on timeout regardless of
// how few requests accumulated).
type BatcherConfig struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
}

// Batcher collects pending requests and flushes them to the executor
// when the batch fills, the wait window elapses, or shutdown begins.
// Adapted from the teacher's pkg/worker/batcher.go Batcher, trading
// the gRPC-specific PendingRequest/*pb.InferResponse plumbing for
// this package's plain CompletionResult.
type Batcher struct {
	cfg    BatcherConfig
	queue  *FIFOQueue
	exec   Executor
	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger

	mu          sync.RWMutex
	currentWait time.Duration

	TotalBatches  atomic.Int64
	TotalRequests atomic.Int64
	LastBatchSize atomic.Int32
	AvgLatencyMs  atomic.Int64
}

func NewBatcher(cfg BatcherConfig, queue *FIFOQueue, exec Executor, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{
		cfg:         cfg,
		queue:       queue,
		exec:        exec,
		notify:      make(chan struct{}, 256),
		stopCh:      make(chan struct{}),
		currentWait: cfg.MaxWaitTime,
		log:         log,
	}
}

// Start begins the batching loop in a background goroutine.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.loop()
	b.log.Info("mockworker batcher started",
		"max_batch", b.cfg.MaxBatchSize, "max_wait", b.cfg.MaxWaitTime, "executor", b.exec.Name())
}

// Stop gracefully drains the queue and shuts the batcher down.
func (b *Batcher) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Signal notifies the batcher that a new request has arrived.
func (b *Batcher) Signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			b.drainRemaining()
			return
		case <-b.notify:
		}

		batch := b.collectBatch()
		if len(batch) == 0 {
			continue
		}
		b.executeBatch(batch)
	}
}

func (b *Batcher) collectBatch() []*PendingRequest {
	b.mu.RLock()
	wait := b.currentWait
	b.mu.RUnlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if b.queue.Depth() >= b.cfg.MaxBatchSize {
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		}

		select {
		case <-b.stopCh:
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		case <-timer.C:
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		case <-b.notify:
			if b.queue.Depth() >= b.cfg.MaxBatchSize {
				return b.queue.DequeueN(b.cfg.MaxBatchSize)
			}
			continue
		}
	}
}

func (b *Batcher) executeBatch(batch []*PendingRequest) {
	batchSize := len(batch)
	start := time.Now()

	results, err := b.exec.ExecuteBatch(batch)
	elapsed := time.Since(start)

	b.TotalBatches.Add(1)
	b.TotalRequests.Add(int64(batchSize))
	b.LastBatchSize.Store(int32(batchSize))

	latencyMs := elapsed.Milliseconds()
	oldAvg := b.AvgLatencyMs.Load()
	if oldAvg == 0 {
		b.AvgLatencyMs.Store(latencyMs)
	} else {
		newAvg := int64(float64(oldAvg)*0.7 + float64(latencyMs)*0.3)
		b.AvgLatencyMs.Store(newAvg)
	}

	if err != nil {
		for _, r := range batch {
			r.ErrCh <- err
		}
		return
	}

	for i, r := range batch {
		r.DoneCh <- results[i]
	}

	b.adaptWait()
}

func (b *Batcher) adaptWait() {
	depth := b.queue.Depth()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case depth > 100:
		b.currentWait = 20 * time.Millisecond
	case depth < 10:
		b.currentWait = 80 * time.Millisecond
	default:
		b.currentWait = b.cfg.MaxWaitTime
	}
}

func (b *Batcher) drainRemaining() {
	for {
		batch := b.queue.DequeueN(b.cfg.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		b.executeBatch(batch)
	}
}
