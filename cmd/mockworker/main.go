// Command mockworker is a standalone OpenAI-compatible HTTP backend
// for exercising the gateway against a live endpoint without a real
// GPU or model behind it. Grounded on the teacher's cmd/worker/main.go
// composition (config -> worker -> batcher start -> serve -> signal ->
// graceful stop), with the gRPC listener and separate metrics port
// replaced by a single plain HTTP server, since this stand-in backend
// speaks only the OpenAI-compatible surface pkg/upstream.Client calls.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/kunal/llm-gateway/pkg/mockworker"
)

// config holds the mock worker's own small set of tunables, kept
// separate from pkg/config.Config since the two processes share no
// settings beyond the listen address convention.
type config struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":9001"`
	ModelName     string        `env:"MODEL_NAME" envDefault:"mock-model"`
	BaseLatencyMs int           `env:"BASE_LATENCY_MS" envDefault:"5"`
	MaxBatchSize  int           `env:"MAX_BATCH_SIZE" envDefault:"8"`
	MaxWaitTime   time.Duration `env:"MAX_WAIT_MS" envDefault:"50ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

func main() {
	log := slog.Default()

	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		log.Error("mockworker: invalid configuration", "error", err)
		os.Exit(1)
	}

	queue := mockworker.NewFIFOQueue()
	exec := mockworker.NewSimulatedExecutor(cfg.BaseLatencyMs)
	batcher := mockworker.NewBatcher(mockworker.BatcherConfig{
		MaxBatchSize: cfg.MaxBatchSize,
		MaxWaitTime:  cfg.MaxWaitTime,
	}, queue, exec, log)
	batcher.Start()
	defer batcher.Stop()

	server := mockworker.NewServer(queue, batcher, cfg.ModelName, cfg.RequestTimeout, log)
	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("mockworker listening", "addr", cfg.ListenAddr, "model", cfg.ModelName)
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
