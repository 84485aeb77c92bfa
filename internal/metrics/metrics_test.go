package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/vetted/internal/metrics"
	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/storage"
)

func appendDecision(t *testing.T, mem *storage.Memory, agentID string, age time.Duration, reviewRequired bool) uuid.UUID {
	t.Helper()
	taskID := uuid.New()
	d := model.Decision{
		ID:                  uuid.New(),
		TaskID:              taskID,
		AgentID:             agentID,
		AgentType:           model.AgentKYC,
		TargetID:            "prov_1",
		Kind:                model.TargetProvider,
		Value:               model.DecisionApprove,
		Confidence:          90,
		Risk:                5,
		HumanReviewRequired: reviewRequired,
		ProcessedAt:         time.Now().UTC().Add(-age),
	}
	require.NoError(t, mem.AppendDecision(context.Background(), d))
	return taskID
}

func TestAgentMetricsWindows(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	agg := metrics.New(mem)

	// Recent: two auto-completed, one review overridden, one review
	// confirmed, one review still waiting. One old auto-completed.
	appendDecision(t, mem, "kyc_agent", time.Hour, false)
	appendDecision(t, mem, "kyc_agent", 2*time.Hour, false)
	overriddenID := appendDecision(t, mem, "kyc_agent", 3*time.Hour, true)
	confirmedID := appendDecision(t, mem, "kyc_agent", 4*time.Hour, true)
	appendDecision(t, mem, "kyc_agent", 5*time.Hour, true)
	appendDecision(t, mem, "kyc_agent", 48*time.Hour, false)

	require.NoError(t, mem.MarkResolved(ctx, overriddenID, true))
	require.NoError(t, mem.MarkResolved(ctx, confirmedID, false))

	m, err := agg.AgentMetrics(ctx, "kyc_agent", model.Window24h)
	require.NoError(t, err)
	assert.Equal(t, 5, m.TasksProcessed)
	assert.Equal(t, 4, m.TasksCompleted, "auto-completed plus human-resolved")
	assert.InDelta(t, 3.0/5.0, m.AccuracyProxy, 1e-9)
	assert.InDelta(t, 1.0/5.0, m.OverrideRate, 1e-9)

	m, err = agg.AgentMetrics(ctx, "kyc_agent", model.Window7d)
	require.NoError(t, err)
	assert.Equal(t, 6, m.TasksProcessed)
	assert.Equal(t, 5, m.TasksCompleted)
}

func TestAgentMetricsHumanConfirmedCompletes(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	agg := metrics.New(mem)

	// A required review the human confirms is a completed task and counts
	// toward the accuracy proxy; no override happened.
	taskID := appendDecision(t, mem, "fraud_agent", time.Hour, true)
	require.NoError(t, mem.MarkResolved(ctx, taskID, false))

	m, err := agg.AgentMetrics(ctx, "fraud_agent", model.Window24h)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TasksProcessed)
	assert.Equal(t, 1, m.TasksCompleted)
	assert.InDelta(t, 1.0, m.AccuracyProxy, 1e-9)
	assert.Zero(t, m.OverrideRate)
}

func TestAgentMetricsEmpty(t *testing.T) {
	agg := metrics.New(storage.NewMemory())

	m, err := agg.AgentMetrics(context.Background(), "idle_agent", model.Window30d)
	require.NoError(t, err)
	assert.Zero(t, m.TasksProcessed)
	assert.Zero(t, m.AccuracyProxy)
	assert.Zero(t, m.AvgProcessing)
}

func TestAgentMetricsUnknownWindow(t *testing.T) {
	agg := metrics.New(storage.NewMemory())
	_, err := agg.AgentMetrics(context.Background(), "kyc_agent", model.Window("1h"))
	require.Error(t, err)
}

func TestAvgProcessing(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	agg := metrics.New(mem)

	appendDecision(t, mem, "qa_agent", time.Minute, false)
	appendDecision(t, mem, "qa_agent", time.Minute, false)
	agg.RecordTerminal(ctx, "qa_agent", model.TaskCompleted, 100*time.Millisecond)
	agg.RecordTerminal(ctx, "qa_agent", model.TaskCompleted, 300*time.Millisecond)

	// Unmeasured terminals (human resolutions) must not pull the average
	// toward zero.
	agg.RecordTerminal(ctx, "qa_agent", model.TaskCompleted, 0)

	m, err := agg.AgentMetrics(ctx, "qa_agent", model.Window24h)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, m.AvgProcessing)
}
