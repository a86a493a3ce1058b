// Command gateway is the composition root for the LLM inference
// gateway: it wires config -> registry -> GPU probe -> balancer ->
// agent router -> external provider -> queue/dispatch -> admission ->
// HTTP surface -> dashboard -> metrics, then serves until a shutdown
// signal arrives. Grounded on the teacher's cmd/router/main.go and
// cmd/worker/main.go for the construct-then-serve-then-signal shape,
// with the evaluator repo's cmd/server/main.go graceful HTTP shutdown
// (context.WithTimeout + http.Server.Shutdown) replacing the teacher's
// bare grpcServer.GracefulStop, since this gateway's public surface is
// HTTP, not gRPC.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/agentrouter"
	"github.com/kunal/llm-gateway/pkg/balancer"
	"github.com/kunal/llm-gateway/pkg/config"
	"github.com/kunal/llm-gateway/pkg/dashboard"
	"github.com/kunal/llm-gateway/pkg/dispatch"
	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/httpapi"
	"github.com/kunal/llm-gateway/pkg/metrics"
	"github.com/kunal/llm-gateway/pkg/provider"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
)

func main() {
	log := slog.Default()
	cfg := config.MustLoad()

	reg := registry.New(nil)
	for _, w := range cfg.Workers {
		reg.Register(registry.ModelEntry{
			LogicalName:      w.LogicalName,
			EndpointURL:      w.EndpointURL,
			DeviceID:         w.DeviceID,
			DeclaredVRAMGB:   w.DeclaredVRAMGB,
			MaxContextTokens: w.MaxContextTokens,
			PreferredFor:     w.PreferredFor,
		})
	}

	probe := gpuprobe.New(gpuprobe.NewSimulated(deviceCapacities(cfg.Workers), nil), time.Duration(cfg.ProbeIntervalMS)*time.Millisecond)
	probe.Start()
	defer probe.Stop()

	bal := balancer.New(reg, probe, cfg.SafetyReserveGB)

	agentRouter, err := agentrouter.New(cfg.AgentMap, reg)
	if err != nil {
		log.Error("invalid agent map", "error", err)
		os.Exit(1)
	}

	prov := provider.New(cfg.ExternalEnabled, cfg.ExternalBaseURL, cfg.ExternalAPIKey, cfg.ExternalModel, cfg.ExternalProviderName, cfg.ExternalTimeout)

	q := queue.New(cfg.QueueCapacity, cfg.ResultTTL, cfg.CacheTTL, cfg.RequestTimeout)

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	reg.StartHealthProbe(probeCtx, 30*time.Second)

	dispatcher := dispatch.New(dispatch.Config{
		MaxBatchSize: cfg.BatchMaxSize,
		MaxWaitTime:  cfg.BatchWindow,
		RetryBudget:  cfg.RetryBudget,
		Concurrency:  cfg.QueueWorkers,
	}, q, agentRouter, bal, reg, prov, log)
	dispatcher.Start(agentRouter.Kinds())
	defer dispatcher.Stop()

	stopCleanup := startCleanupLoop(q, cfg.CleanupEvery, log)
	defer close(stopCleanup)

	limiter := admission.NewLimiter(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowS)*time.Second)

	server := httpapi.New(q, dispatcher, agentRouter, reg, probe, limiter, cfg.PerAgentMaxTokens, cfg.RequestTimeout, log)
	router := server.NewRouter(parseOrigins(cfg.CORSAllowOrigin))

	collector := metrics.NewCollector(probe, q, reg, 2*time.Second)
	collector.Start()
	defer collector.Stop()

	broadcaster := dashboard.New(probe, q, reg, cfg.BroadcastTick, log)
	broadcaster.Start()
	defer broadcaster.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.HandleFunc("/ws", broadcaster.HandleWS)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// deviceCapacities collapses the configured workers into a per-device
// VRAM capacity map for the simulated GPU querier, taking twice the
// largest declared footprint seen per device as its simulated total.
func deviceCapacities(workers []config.WorkerSpec) map[string]float64 {
	out := make(map[string]float64)
	for _, w := range workers {
		if w.DeviceID == "" {
			continue
		}
		// Headroom over the single largest model keeps the simulation
		// from reporting permanent near-capacity pressure.
		capacity := w.DeclaredVRAMGB * 2
		if existing, ok := out[w.DeviceID]; !ok || capacity > existing {
			out[w.DeviceID] = capacity
		}
	}
	return out
}

// startCleanupLoop periodically sweeps expired result-store and cache
// entries (spec §4.F). Returns a channel that stops the loop when closed.
func startCleanupLoop(q *queue.Queue, every time.Duration, log *slog.Logger) chan struct{} {
	if every <= 0 {
		every = 30 * time.Second
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := q.Cleanup(); n > 0 {
					log.Debug("cleanup swept entries", "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// parseOrigins splits a comma-separated CORS origin list, defaulting
// to ["*"] when unset (spec §6 "cors_allow_origin").
func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
