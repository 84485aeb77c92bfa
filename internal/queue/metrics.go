package queue

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/servicehub/vetted/internal/telemetry"
)

// RegisterMetrics registers an observable per-agent queue depth gauge.
// Call after the global meter provider has been initialized.
func (q *Queue) RegisterMetrics() {
	meter := telemetry.Meter("vetted/queue")

	_, _ = meter.Int64ObservableGauge("vetted.queue.depth",
		metric.WithDescription("Tasks waiting per agent queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for agentID, depth := range q.Depths() {
				o.Observe(int64(depth), metric.WithAttributes(attribute.String("agent_id", agentID)))
			}
			return nil
		}),
	)
}
