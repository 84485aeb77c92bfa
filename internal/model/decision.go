package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DecisionValue is the outcome an evaluator recommends.
type DecisionValue string

const (
	DecisionApprove       DecisionValue = "approve"
	DecisionReject        DecisionValue = "reject"
	DecisionFlagForReview DecisionValue = "flag_for_review"
	DecisionRequestInfo   DecisionValue = "request_more_info"
)

// Decision is the scored, auditable outcome of one evaluated task.
// Exactly one Decision exists per completed task; immutable once created.
type Decision struct {
	ID        uuid.UUID  `json:"id"`
	TaskID    uuid.UUID  `json:"task_id"`
	AgentID   string     `json:"agent_id"`
	AgentType AgentType  `json:"agent_type"`
	TargetID  string     `json:"target_id"`
	Kind      TargetKind `json:"target_kind"`

	Value DecisionValue `json:"value"`

	// Confidence (0-100) is the evaluator's certainty in its own decision.
	// Risk (0-100) is the estimated harm/fraud likelihood, independent of
	// confidence.
	Confidence float64 `json:"confidence"`
	Risk       float64 `json:"risk"`

	Reasoning string   `json:"reasoning"`
	Evidence  []string `json:"evidence,omitempty"`

	// HumanReviewRequired is set when the decision may not be applied
	// without sign-off: confidence below the agent's minimum, risk above
	// its ceiling, a mandatory-review rule fired, or auto-approval is off.
	HumanReviewRequired bool `json:"human_review_required"`

	// HumanResolved records that a human has signed off on this decision,
	// whether confirming or overriding it. A resolved decision's task is
	// completed even though review was required.
	HumanResolved bool `json:"human_resolved"`

	// HumanOverridden records that the human resolved this decision
	// differently than the evaluator recommended. Feeds the accuracy proxy.
	HumanOverridden bool `json:"human_overridden"`

	ProcessedAt time.Time      `json:"processed_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the decision scoring contract.
func (d Decision) Validate() error {
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("decision %s: confidence must be in [0,100], got %v", d.ID, d.Confidence)
	}
	if d.Risk < 0 || d.Risk > 100 {
		return fmt.Errorf("decision %s: risk must be in [0,100], got %v", d.ID, d.Risk)
	}
	switch d.Value {
	case DecisionApprove, DecisionReject, DecisionFlagForReview, DecisionRequestInfo:
	default:
		return fmt.Errorf("decision %s: unknown value %q", d.ID, d.Value)
	}
	return nil
}
