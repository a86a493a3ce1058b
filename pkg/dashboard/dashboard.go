// Package dashboard pushes a live snapshot of gateway state to connected
// WebSocket clients on a fixed tick, the same role the teacher's
// pkg/router/broadcast.go + router.go's StartPoller broadcast loop play
// for cluster state, repurposed here to push the gateway's own domain
// types (GPU status, queue stats, registry snapshot) instead of
// pb.WorkerMetrics.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GPUDeviceState is one device's entry in a State payload.
type GPUDeviceState struct {
	DeviceID       string  `json:"device_id"`
	UsedGB         float64 `json:"used_gb"`
	TotalGB        float64 `json:"total_gb"`
	UtilizationPct float64 `json:"utilization_pct"`
	TemperatureC   float64 `json:"temperature_c"`
	Pressure       string  `json:"pressure"`
	Unknown        bool    `json:"unknown"`
}

// State is the JSON payload pushed to dashboard clients every tick.
type State struct {
	GPUs     []GPUDeviceState      `json:"gpus"`
	Queue    queue.Stats           `json:"queue"`
	Models   []registry.ModelEntry `json:"models"`
	SentAtMS int64                 `json:"sent_at_ms"`
}

// Broadcaster pushes gateway State to connected dashboard clients via
// WebSocket, fanning out a single marshalled payload per tick.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	gpu   *gpuprobe.Probe
	q     *queue.Queue
	reg   *registry.Registry
	tick  time.Duration
	log   *slog.Logger
	stop  chan struct{}
	clock clockFn
}

type clockFn func() time.Time

// New builds a Broadcaster. tick defaults to 500ms when zero or
// negative. log defaults to slog.Default() when nil.
func New(gpu *gpuprobe.Probe, q *queue.Queue, reg *registry.Registry, tick time.Duration, log *slog.Logger) *Broadcaster {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		gpu:     gpu,
		q:       q,
		reg:     reg,
		tick:    tick,
		log:     log,
		stop:    make(chan struct{}),
		clock:   time.Now,
	}
}

// HandleWS is the WebSocket upgrade handler for the dashboard feed.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("dashboard websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	n := len(b.clients)
	b.mu.Unlock()

	b.log.Info("dashboard client connected", "clients", n)

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			remaining := len(b.clients)
			b.mu.Unlock()
			conn.Close()
			b.log.Info("dashboard client disconnected", "clients", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// snapshot assembles the current State from the wired collaborators.
func (b *Broadcaster) snapshot() State {
	devices := b.gpu.Devices()
	gpus := make([]GPUDeviceState, 0, len(devices))
	for _, id := range devices {
		m, ok := b.gpu.Current(id)
		if !ok {
			continue
		}
		gpus = append(gpus, GPUDeviceState{
			DeviceID:       id,
			UsedGB:         m.UsedGB,
			TotalGB:        m.TotalGB,
			UtilizationPct: m.UtilizationPct,
			TemperatureC:   m.TemperatureC,
			Pressure:       gpuprobe.Classify(m).String(),
			Unknown:        m.Unknown,
		})
	}

	return State{
		GPUs:     gpus,
		Queue:    b.q.Stats(),
		Models:   b.reg.Snapshot(),
		SentAtMS: b.clock().UnixMilli(),
	}
}

// Broadcast sends state to every connected client, pruning any
// connection whose write fails.
func (b *Broadcaster) Broadcast(state State) {
	data, err := json.Marshal(state)
	if err != nil {
		b.log.Error("dashboard marshal failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
}

// Start begins the periodic broadcast loop. It returns immediately;
// call Stop to terminate the loop and release its goroutine.
func (b *Broadcaster) Start() {
	go func() {
		ticker := time.NewTicker(b.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Broadcast(b.snapshot())
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop ends the broadcast loop started by Start.
func (b *Broadcaster) Stop() {
	close(b.stop)
}

// ClientCount reports the number of currently connected dashboard
// clients, mainly useful for tests and health introspection.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
