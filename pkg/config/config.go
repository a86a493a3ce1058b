// Package config parses the gateway's environment-driven configuration
// (spec §6). It generalizes the teacher's hand-rolled envStr/envInt
// helpers into a single tagged struct parsed by caarlos0/env, the way
// the retrieval pack's ai-cv-evaluator repo configures itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/kunal/llm-gateway/pkg/types"
)

// WorkerSpec describes one statically configured model entry (spec §3
// ModelEntry, minus the mutable health/statistics fields owned by
// pkg/registry at runtime).
type WorkerSpec struct {
	LogicalName      string            `json:"logical_name"`
	EndpointURL      string            `json:"endpoint_url"`
	DeviceID         string            `json:"device_id"`
	DeclaredVRAMGB   float64           `json:"declared_vram_gb"`
	MaxContextTokens int               `json:"max_context_tokens"`
	PreferredFor     []types.AgentKind `json:"preferred_for"`
}

// Config holds all gateway configuration, parsed from environment
// variables with sane defaults (spec §6).
type Config struct {
	// HTTP surface
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	RequestTimeout  time.Duration `env:"DEFAULT_REQUEST_TIMEOUT" envDefault:"30s"`
	CORSAllowOrigin string        `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`

	// Workers / agent map, supplied as JSON blobs (spec §6: "workers",
	// "agent_map"). A single authoritative map, per spec §9 open
	// question (a) — no attempt to reconcile drifting per-file maps.
	WorkersJSON  string `env:"WORKERS_JSON" envDefault:"[]"`
	AgentMapJSON string `env:"AGENT_MAP_JSON" envDefault:"{}"`

	// Queue
	QueueCapacity int           `env:"QUEUE_CAPACITY" envDefault:"1000"`
	QueueWorkers  int           `env:"QUEUE_WORKERS" envDefault:"4"`
	BatchMaxSize  int           `env:"BATCH_MAX_SIZE" envDefault:"8"`
	BatchWindow   time.Duration `env:"BATCH_WINDOW_MS" envDefault:"100ms"`
	ResultTTL     time.Duration `env:"RESULT_TTL_MS" envDefault:"300s"`
	CacheTTL      time.Duration `env:"RESPONSE_CACHE_TTL_MS" envDefault:"60s"`
	CleanupEvery  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"30s"`
	RetryBudget   int           `env:"UPSTREAM_RETRY_BUDGET" envDefault:"2"`

	// GPU probe
	ProbeIntervalMS int     `env:"PROBE_INTERVAL_MS" envDefault:"1000"`
	SafetyReserveGB float64 `env:"SAFETY_RESERVE_GB" envDefault:"3"`
	UseNVML         string  `env:"USE_NVML" envDefault:"auto"`

	// Admission / rate limiting
	RateLimitWindowS     int    `env:"RATE_LIMIT_WINDOW_S" envDefault:"60"`
	RateLimitMax         int    `env:"RATE_LIMIT_MAX" envDefault:"100"`
	PerAgentMaxTokens    map[string]int `env:"-"`
	PerAgentMaxTokensJSON string        `env:"PER_AGENT_MAX_TOKENS_JSON" envDefault:"{}"`

	// External provider (spec §6)
	ExternalEnabled      bool          `env:"EXTERNAL_LLM_ENABLED" envDefault:"false"`
	ExternalBaseURL      string        `env:"EXTERNAL_LLM_BASE_URL"`
	ExternalAPIKey       string        `env:"EXTERNAL_LLM_API_KEY"`
	ExternalModel        string        `env:"EXTERNAL_LLM_MODEL"`
	ExternalProviderName string        `env:"EXTERNAL_LLM_PROVIDER_NAME" envDefault:"external"`
	ExternalTimeout      time.Duration `env:"EXTERNAL_LLM_TIMEOUT_MS" envDefault:"20s"`

	// Metrics / dashboard
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9090"`
	BroadcastTick time.Duration `env:"DASHBOARD_BROADCAST_MS" envDefault:"500ms"`

	// Derived, populated by Load after JSON parsing.
	Workers  []WorkerSpec                 `env:"-"`
	AgentMap map[types.AgentKind][]string `env:"-"`
}

// Load reads configuration from the environment, applying defaults the
// same way the teacher's config.Load does, but through struct tags
// instead of hand-written envStr/envInt helpers.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	var workers []WorkerSpec
	if err := json.Unmarshal([]byte(c.WorkersJSON), &workers); err != nil {
		return nil, fmt.Errorf("config: WORKERS_JSON: %w", err)
	}
	c.Workers = workers

	var agentMap map[types.AgentKind][]string
	if err := json.Unmarshal([]byte(c.AgentMapJSON), &agentMap); err != nil {
		return nil, fmt.Errorf("config: AGENT_MAP_JSON: %w", err)
	}
	c.AgentMap = agentMap

	var perAgentMax map[string]int
	if err := json.Unmarshal([]byte(c.PerAgentMaxTokensJSON), &perAgentMax); err != nil {
		return nil, fmt.Errorf("config: PER_AGENT_MAX_TOKENS_JSON: %w", err)
	}
	c.PerAgentMaxTokens = perAgentMax

	return c, nil
}

// MustLoad is a convenience wrapper for cmd/ entry points that cannot
// meaningfully continue without valid configuration.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return c
}
