// Package storage defines the persistence seams for task, decision, and
// provider records, with memory, Postgres, and SQLite implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/servicehub/vetted/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDecisionExists is returned when a second terminal decision is appended
// for the same task. Every task has exactly one terminal decision or none.
var ErrDecisionExists = errors.New("storage: decision already recorded for task")

// TaskStore persists task state across the lifecycle. Implementations must
// support concurrent writers, one per agent loop plus the control plane.
type TaskStore interface {
	SaveTask(ctx context.Context, task model.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
	ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error)
}

// DecisionStore is the append-only decision audit trail.
type DecisionStore interface {
	AppendDecision(ctx context.Context, d model.Decision) error
	GetDecisionByTask(ctx context.Context, taskID uuid.UUID) (model.Decision, error)
	// ListDecisionsSince returns an agent's decisions processed at or after
	// the cutoff, for rolling-window metrics recomputation.
	ListDecisionsSince(ctx context.Context, agentID string, since time.Time) ([]model.Decision, error)
	// MarkResolved flags a decision as human-resolved, recording whether
	// the human overrode the recommendation. The decision content itself
	// stays immutable.
	MarkResolved(ctx context.Context, taskID uuid.UUID, overridden bool) error
}

// ProviderStore reads and updates provider records owned by the marketplace.
type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	ListProvidersByKYCStatus(ctx context.Context, status model.KYCStatus) ([]model.Provider, error)
	UpdateKYCStatus(ctx context.Context, id string, status model.KYCStatus) error
}
