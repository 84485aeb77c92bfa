// Package metrics derives per-agent rollups from the decision audit trail.
// Windows are recomputed on read rather than continuously maintained, so an
// idle agent costs nothing.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/storage"
	"github.com/servicehub/vetted/internal/telemetry"
)

// sample is one terminal decision's processing latency.
type sample struct {
	at  time.Time
	dur time.Duration
}

// maxSampleAge bounds the latency sample buffer to the widest window.
const maxSampleAge = 30 * 24 * time.Hour

// Aggregator accumulates processing latency samples in memory and computes
// windowed rollups from the decision store. Safe for concurrent use by all
// agent loops.
type Aggregator struct {
	decisions storage.DecisionStore
	now       func() time.Time

	processed metric.Int64Counter

	mu      sync.Mutex
	samples map[string][]sample
}

// New creates an aggregator over the given decision store.
func New(decisions storage.DecisionStore) *Aggregator {
	meter := telemetry.Meter("vetted/metrics")
	processed, _ := meter.Int64Counter("vetted.tasks.processed",
		metric.WithDescription("Terminal decisions recorded per agent"))
	return &Aggregator{
		decisions: decisions,
		now:       func() time.Time { return time.Now().UTC() },
		processed: processed,
		samples:   make(map[string][]sample),
	}
}

// RecordTerminal feeds the aggregator one terminal decision's outcome. The
// runtime calls this after the decision is persisted.
func (a *Aggregator) RecordTerminal(ctx context.Context, agentID string, status model.TaskStatus, processing time.Duration) {
	if a.processed != nil {
		a.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent_id", agentID),
			attribute.String("status", string(status)),
		))
	}

	// Callers without a measured evaluation latency (human resolutions,
	// failed tasks with no processing start) pass zero; keeping those
	// samples would drag the average toward zero.
	if processing <= 0 {
		return
	}

	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := append(a.samples[agentID], sample{at: now, dur: processing})
	cutoff := now.Add(-maxSampleAge)
	for len(kept) > 0 && kept[0].at.Before(cutoff) {
		kept = kept[1:]
	}
	a.samples[agentID] = kept
}

// AgentMetrics computes the rollup for one agent over a window.
func (a *Aggregator) AgentMetrics(ctx context.Context, agentID string, w model.Window) (model.AgentMetrics, error) {
	span := model.WindowDuration(w)
	if span == 0 {
		return model.AgentMetrics{}, fmt.Errorf("metrics: unknown window %q", w)
	}
	cutoff := a.now().Add(-span)

	decisions, err := a.decisions.ListDecisionsSince(ctx, agentID, cutoff)
	if err != nil {
		return model.AgentMetrics{}, fmt.Errorf("metrics: list decisions for %s: %w", agentID, err)
	}

	m := model.AgentMetrics{
		AgentID:        agentID,
		Window:         w,
		TasksProcessed: len(decisions),
	}
	var cleanCompleted, overridden int
	for _, d := range decisions {
		// Completed means the task reached its terminal state: either it
		// auto-completed, or a human resolved the required review.
		completed := !d.HumanReviewRequired || d.HumanResolved
		if completed {
			m.TasksCompleted++
			if !d.HumanOverridden {
				cleanCompleted++
			}
		}
		if d.HumanOverridden {
			overridden++
		}
	}
	if m.TasksProcessed > 0 {
		m.AccuracyProxy = float64(cleanCompleted) / float64(m.TasksProcessed)
		m.OverrideRate = float64(overridden) / float64(m.TasksProcessed)
	}

	a.mu.Lock()
	var total time.Duration
	var n int
	for _, s := range a.samples[agentID] {
		if !s.at.Before(cutoff) {
			total += s.dur
			n++
		}
	}
	a.mu.Unlock()
	if n > 0 {
		m.AvgProcessing = total / time.Duration(n)
	}
	return m, nil
}
