// Package types holds the small closed enumerations shared across the
// gateway: agent kinds and dispatch priorities.
package types

import "fmt"

// AgentKind is the logical role of an inbound request. It drives
// candidate model selection in pkg/agentrouter. The set is closed and
// extensible only at build time — unknown values are rejected at
// admission.
type AgentKind string

const (
	AgentChat          AgentKind = "chat"
	AgentAppointment   AgentKind = "appointment"
	AgentMedicalQA     AgentKind = "medical_qa"
	AgentDocumentation AgentKind = "documentation"
	AgentBilling       AgentKind = "billing"
	AgentClaims        AgentKind = "claims"
	AgentMonitoring    AgentKind = "monitoring"
	AgentScribe        AgentKind = "scribe"
	AgentTriage        AgentKind = "triage"
	AgentClinical      AgentKind = "clinical"
	AgentAIDoctor      AgentKind = "ai_doctor"
)

var validAgentKinds = map[AgentKind]struct{}{
	AgentChat:          {},
	AgentAppointment:   {},
	AgentMedicalQA:     {},
	AgentDocumentation: {},
	AgentBilling:       {},
	AgentClaims:        {},
	AgentMonitoring:    {},
	AgentScribe:        {},
	AgentTriage:        {},
	AgentClinical:      {},
	AgentAIDoctor:      {},
}

// Valid reports whether a is one of the closed set of known agent kinds.
func (a AgentKind) Valid() bool {
	_, ok := validAgentKinds[a]
	return ok
}

// ParseAgentKind validates and normalizes a raw agent_kind string.
func ParseAgentKind(raw string) (AgentKind, error) {
	a := AgentKind(raw)
	if !a.Valid() {
		return "", fmt.Errorf("unknown agent_kind %q", raw)
	}
	return a, nil
}

// Priority is a dispatch priority. Smaller ordinals dispatch earlier.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority validates a raw priority string, defaulting to Normal
// when empty.
func ParsePriority(raw string) (Priority, error) {
	switch raw {
	case "", "normal":
		return PriorityNormal, nil
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", raw)
	}
}
