package model

import (
	"fmt"
	"time"
)

// AgentType identifies which evaluator an agent runs.
type AgentType string

const (
	AgentKYC            AgentType = "kyc"
	AgentFraud          AgentType = "fraud"
	AgentServiceQuality AgentType = "service_quality"
	AgentSupport        AgentType = "support"
	AgentQA             AgentType = "qa"
)

// KnownAgentType reports whether t is one of the built-in agent types.
func KnownAgentType(t AgentType) bool {
	switch t {
	case AgentKYC, AgentFraud, AgentServiceQuality, AgentSupport, AgentQA:
		return true
	}
	return false
}

// Priority is the scheduling class of an agent or task.
// Higher rank dequeues first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank returns the numeric rank of a priority (higher = sooner).
// Unknown priorities rank below low so malformed input never jumps the queue.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AgentStatus is the observed state of an agent's scheduling loop.
type AgentStatus string

const (
	StatusOnline AgentStatus = "online" // loop running, waiting for work
	StatusBusy   AgentStatus = "busy"   // loop running, task in flight
	StatusError  AgentStatus = "error"  // last task hit a transient failure
	StatusPaused AgentStatus = "paused" // deactivated, loop not dequeuing
)

// KYCSettings tunes the KYC evaluator.
type KYCSettings struct {
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
}

// FraudSettings tunes the fraud evaluator's pattern thresholds.
type FraudSettings struct {
	HighRiskThreshold   float64 `yaml:"high_risk_threshold" json:"high_risk_threshold"`
	MediumRiskThreshold float64 `yaml:"medium_risk_threshold" json:"medium_risk_threshold"`
	LowRiskThreshold    float64 `yaml:"low_risk_threshold" json:"low_risk_threshold"`
}

// RuleSettings tunes the rule-based evaluators (service quality, support, QA).
type RuleSettings struct {
	MinContentLength int      `yaml:"min_content_length" json:"min_content_length"`
	BannedTerms      []string `yaml:"banned_terms" json:"banned_terms"`
}

// AgentConfig is the static configuration of one agent. Created at system
// start and mutated only through the control plane.
type AgentConfig struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Type     AgentType `yaml:"type" json:"type"`
	Active   bool      `yaml:"active" json:"active"`
	Priority Priority  `yaml:"priority" json:"priority"`

	// Auto-approval policy. Threshold only takes effect when Enabled is true.
	AutoApproveEnabled   bool    `yaml:"auto_approve_enabled" json:"auto_approve_enabled"`
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold" json:"auto_approve_threshold"`

	// MinConfidence and MaxRisk bound when a decision can complete without
	// a human. A scored decision below MinConfidence or above MaxRisk is
	// routed to requires_human.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxRisk       float64 `yaml:"max_risk" json:"max_risk"`

	// Exactly one of these is set, matching Type.
	KYC   *KYCSettings   `yaml:"kyc,omitempty" json:"kyc,omitempty"`
	Fraud *FraudSettings `yaml:"fraud,omitempty" json:"fraud,omitempty"`
	Rules *RuleSettings  `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Validate checks an agent configuration. Violations are configuration
// errors: they are rejected here and never reach a task.
func (c AgentConfig) Validate() error {
	if err := ValidateAgentID(c.ID); err != nil {
		return err
	}
	if !KnownAgentType(c.Type) {
		return fmt.Errorf("agent %s: unknown agent type %q", c.ID, c.Type)
	}
	if PriorityRank(c.Priority) == 0 {
		return fmt.Errorf("agent %s: unknown priority %q", c.ID, c.Priority)
	}
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 100 {
		return fmt.Errorf("agent %s: auto_approve_threshold must be in [0,100], got %v", c.ID, c.AutoApproveThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("agent %s: min_confidence must be in [0,100], got %v", c.ID, c.MinConfidence)
	}
	if c.MaxRisk < 0 || c.MaxRisk > 100 {
		return fmt.Errorf("agent %s: max_risk must be in [0,100], got %v", c.ID, c.MaxRisk)
	}
	return nil
}

// ValidateAgentID checks that an agent ID conforms to the allowed format:
// 1-64 characters, lowercase alphanumeric, hyphens, and underscores,
// starting with a lowercase letter.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("agent id must be at most 64 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("agent id must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("agent id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// AgentSnapshot is a point-in-time view of one agent for the control plane.
type AgentSnapshot struct {
	Config     AgentConfig `json:"config"`
	Status     AgentStatus `json:"status"`
	QueueDepth int         `json:"queue_depth"`
	LastActive time.Time   `json:"last_active"`
}
