// Package agentrouter maps agent kinds onto an ordered list of
// candidate logical model names (spec §4.D). Config-loaded at
// startup, following the teacher's config-driven bootstrap style
// (pkg/config.Load).
package agentrouter

import (
	"fmt"

	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
)

// Router maps AgentKind -> ordered candidate logical names.
type Router struct {
	mapping  map[types.AgentKind][]string
	registry *registry.Registry
}

// New builds a Router from a static agent map (spec §6 "agent_map").
func New(mapping map[types.AgentKind][]string, reg *registry.Registry) (*Router, error) {
	for kind, candidates := range mapping {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("agentrouter: agent kind %q has no candidates", kind)
		}
	}
	return &Router{mapping: mapping, registry: reg}, nil
}

// Kinds returns every agent kind configured in the static agent map,
// used by cmd/gateway to start one collator per kind.
func (r *Router) Kinds() []types.AgentKind {
	out := make([]types.AgentKind, 0, len(r.mapping))
	for kind := range r.mapping {
		out = append(out, kind)
	}
	return out
}

// Candidates returns the ordered candidate list for an agent kind.
// Never empty for an admitted kind — admission rejects unknown kinds
// before this is called.
func (r *Router) Candidates(kind types.AgentKind) ([]string, error) {
	c, ok := r.mapping[kind]
	if !ok || len(c) == 0 {
		return nil, fmt.Errorf("agentrouter: no candidates configured for %q", kind)
	}
	out := make([]string, len(c))
	copy(out, c)
	return out, nil
}

// CandidatesForContext filters Candidates to those whose declared
// max_context_tokens satisfies minContextTokens (spec §4.D).
func (r *Router) CandidatesForContext(kind types.AgentKind, minContextTokens int) ([]string, error) {
	all, err := r.Candidates(kind)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		m, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		if m.MaxContextTokens >= minContextTokens {
			out = append(out, name)
		}
	}
	return out, nil
}
