// Package httpapi is the gateway's public HTTP surface (spec §4.H):
// the synchronous chat endpoint, the async submit/status/result/
// cancel/stats/health endpoints, GPU status, and the public model
// registry view. Grounded on the evaluator repo's BuildRouter/Server
// (internal/app/router.go, internal/adapter/httpserver/handlers.go)
// for the chi wiring and validator usage, with route semantics taken
// from spec.md §4.H's endpoint table rather than the evaluator's own
// upload/evaluate routes.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/kunal/llm-gateway/pkg/admission"
	"github.com/kunal/llm-gateway/pkg/agentrouter"
	"github.com/kunal/llm-gateway/pkg/dispatch"
	"github.com/kunal/llm-gateway/pkg/gpuprobe"
	"github.com/kunal/llm-gateway/pkg/queue"
	"github.com/kunal/llm-gateway/pkg/registry"
)

// Server bundles every collaborator a handler needs. It holds no
// mutable state of its own beyond the validator instance — all real
// state lives in the wired components.
type Server struct {
	Queue             *queue.Queue
	Dispatcher        *dispatch.Dispatcher
	AgentRouter       *agentrouter.Router
	Registry          *registry.Registry
	GPU               *gpuprobe.Probe
	Limiter           *admission.Limiter
	PerAgentMaxTokens map[string]int
	DefaultDeadline   time.Duration
	Log               *slog.Logger

	validate *validator.Validate
}

// New builds a Server. log defaults to slog.Default() when nil.
func New(q *queue.Queue, d *dispatch.Dispatcher, ar *agentrouter.Router, reg *registry.Registry, gpu *gpuprobe.Probe, limiter *admission.Limiter, perAgentMaxTokens map[string]int, defaultDeadline time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if defaultDeadline <= 0 {
		defaultDeadline = 30 * time.Second
	}
	return &Server{
		Queue:             q,
		Dispatcher:        d,
		AgentRouter:       ar,
		Registry:          reg,
		GPU:               gpu,
		Limiter:           limiter,
		PerAgentMaxTokens: perAgentMaxTokens,
		DefaultDeadline:   defaultDeadline,
		Log:               log,
		validate:          validator.New(),
	}
}

// NewRouter builds the full chi.Router for the gateway's public
// surface, wiring pkg/admission's middleware chain ahead of the
// routes (spec §4.G): request ID, CORS, then per-route rate limiting
// on the mutating endpoints.
func (s *Server) NewRouter(corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(admission.WithRequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(admission.PeekAgentKind)
		if s.Limiter != nil {
			wr.Use(s.Limiter.Handler)
		}
		wr.Post("/v1/chat/completions", s.handleChatCompletions)
		wr.Post("/v1/async/submit", s.handleAsyncSubmit)
		wr.Post("/v1/async/submit-batch", s.handleAsyncSubmitBatch)
		wr.Delete("/v1/async/cancel/{task_id}", s.handleAsyncCancel)
	})

	r.Get("/v1/async/status/{task_id}", s.handleAsyncStatus)
	r.Get("/v1/async/result/{task_id}", s.handleAsyncResult)
	r.Get("/v1/async/stats", s.handleAsyncStats)
	r.Get("/v1/async/health", s.handleAsyncHealth)
	r.Get("/v1/gpu/status", s.handleGPUStatus)
	r.Get("/models", s.handleModels)

	return r
}
