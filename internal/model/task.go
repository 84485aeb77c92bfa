package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
//
// pending → processing → {completed, failed, requires_human}
//
// requires_human is not terminal: an external actor resolves it, after which
// the task transitions to completed or failed. completed and failed are
// terminal.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskProcessing    TaskStatus = "processing"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskRequiresHuman TaskStatus = "requires_human"
)

// Terminal reports whether s admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskProcessing
	case TaskProcessing:
		// pending is re-entry on transient-failure retry.
		return next == TaskCompleted || next == TaskFailed || next == TaskRequiresHuman || next == TaskPending
	case TaskRequiresHuman:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// TargetKind names the kind of record a task operates on.
type TargetKind string

const (
	TargetProvider TargetKind = "provider"
	TargetService  TargetKind = "service"
	TargetUser     TargetKind = "user"
	TargetBooking  TargetKind = "booking"
	TargetReview   TargetKind = "review"
)

// TaskType names the work a task asks its agent to do.
type TaskType string

const (
	TaskVerifyIdentity TaskType = "verify_identity"
	TaskFraudScan      TaskType = "fraud_scan"
	TaskQualityCheck   TaskType = "quality_check"
	TaskSupportTriage  TaskType = "support_triage"
	TaskComplianceScan TaskType = "compliance_scan"
)

// Task is one unit of work for an agent. Mutated only by the owning agent's
// loop; retained after completion for audit.
type Task struct {
	ID         uuid.UUID      `json:"id"`
	AgentID    string         `json:"agent_id"`
	Type       TaskType       `json:"type"`
	Priority   Priority       `json:"priority"`
	Status     TaskStatus     `json:"status"`
	TargetID   string         `json:"target_id"`
	TargetKind TargetKind     `json:"target_kind"`
	Payload    map[string]any `json:"payload"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`

	// Attempts counts evaluation attempts, including retries of
	// transient failures.
	Attempts int `json:"attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PayloadString returns the string value of a payload key, or "" when the
// key is absent or not a string.
func (t Task) PayloadString(key string) string {
	if t.Payload == nil {
		return ""
	}
	s, _ := t.Payload[key].(string)
	return s
}
