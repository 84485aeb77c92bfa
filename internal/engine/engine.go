// Package engine scores queued tasks into Decisions and decides whether a
// decision may be applied without a human. Evaluators are per-agent-type
// and share one scoring contract: confidence and risk scalars in [0,100],
// so the state machine stays agent-agnostic.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/servicehub/vetted/internal/model"
)

var tracer = otel.Tracer("vetted/engine")

// Evaluator scores one task under a snapshot of its agent's configuration.
//
// The returned error is reserved for transient infrastructure failures
// (registry unavailable, store unreachable) that the runtime retries.
// Deterministic verification failures are encoded in the Decision's value,
// reasoning, and evidence instead.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg model.AgentConfig, task model.Task) (model.Decision, error)
}

// Engine dispatches tasks to the evaluator registered for the agent's type.
type Engine struct {
	evaluators map[model.AgentType]Evaluator
	now        func() time.Time
}

// New creates an engine with the given evaluators. Later registrations for
// the same type win, so callers can override a built-in evaluator.
func New(evaluators map[model.AgentType]Evaluator) *Engine {
	evs := make(map[model.AgentType]Evaluator, len(evaluators))
	for t, ev := range evaluators {
		evs[t] = ev
	}
	return &Engine{evaluators: evs, now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate scores task and stamps the decision's identity fields.
func (e *Engine) Evaluate(ctx context.Context, cfg model.AgentConfig, task model.Task) (model.Decision, error) {
	ev, ok := e.evaluators[cfg.Type]
	if !ok {
		return model.Decision{}, fmt.Errorf("engine: no evaluator for agent type %q", cfg.Type)
	}

	ctx, span := tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(
			attribute.String("vetted.agent_id", cfg.ID),
			attribute.String("vetted.agent_type", string(cfg.Type)),
			attribute.String("vetted.task_id", task.ID.String()),
			attribute.Int("vetted.attempt", task.Attempts),
		),
	)
	defer span.End()

	d, err := ev.Evaluate(ctx, cfg, task)
	if err != nil {
		span.RecordError(err)
		return model.Decision{}, err
	}
	span.SetAttributes(
		attribute.String("vetted.decision", string(d.Value)),
		attribute.Float64("vetted.confidence", d.Confidence),
		attribute.Float64("vetted.risk", d.Risk),
	)

	d.ID = uuid.New()
	d.TaskID = task.ID
	d.AgentID = cfg.ID
	d.AgentType = cfg.Type
	d.TargetID = task.TargetID
	d.Kind = task.TargetKind
	d.ProcessedAt = e.now()

	if err := d.Validate(); err != nil {
		return model.Decision{}, fmt.Errorf("engine: evaluator for %q broke scoring contract: %w", cfg.Type, err)
	}
	return d, nil
}

// clamp bounds v to the [0,100] scoring range.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
