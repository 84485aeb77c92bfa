package engine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/vetted/internal/engine"
	"github.com/servicehub/vetted/internal/model"
)

func qaConfig() model.AgentConfig {
	return model.AgentConfig{
		ID:                   "qa_agent",
		Name:                 "Compliance Scanner",
		Type:                 model.AgentQA,
		Active:               true,
		Priority:             model.PriorityMedium,
		AutoApproveEnabled:   true,
		AutoApproveThreshold: 70,
		MinConfidence:        40,
		MaxRisk:              25,
		Rules: &model.RuleSettings{
			MinContentLength: 10,
			BannedTerms:      []string{"guaranteed returns", "wire transfer only"},
		},
	}
}

func reviewTask(targetID, content string) model.Task {
	return model.Task{
		ID:         uuid.New(),
		AgentID:    "qa_agent",
		Type:       model.TaskComplianceScan,
		Priority:   model.PriorityMedium,
		Status:     model.TaskProcessing,
		TargetID:   targetID,
		TargetKind: model.TargetReview,
		Payload:    map[string]any{"content": content},
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRulesApprove(t *testing.T) {
	ev := engine.NewRuleEvaluator(slog.Default())
	cfg := qaConfig()

	d, err := ev.Evaluate(context.Background(), cfg, reviewTask("rev_1", "Fixed my kitchen sink quickly and cleanly."))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprove, d.Value)
	assert.Equal(t, model.TaskCompleted, engine.Route(cfg, &d))
}

func TestRulesBannedTerm(t *testing.T) {
	ev := engine.NewRuleEvaluator(slog.Default())
	cfg := qaConfig()

	// Term matching is case-insensitive.
	d, err := ev.Evaluate(context.Background(), cfg, reviewTask("rev_2", "Invest now for GUARANTEED RETURNS on every booking."))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionReject, d.Value)
	assert.Equal(t, model.TaskRequiresHuman, engine.Route(cfg, &d))
}

func TestRulesShortContent(t *testing.T) {
	ev := engine.NewRuleEvaluator(slog.Default())

	d, err := ev.Evaluate(context.Background(), qaConfig(), reviewTask("rev_3", "ok job"))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRequestInfo, d.Value)

	d, err = ev.Evaluate(context.Background(), qaConfig(), reviewTask("rev_4", ""))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRequestInfo, d.Value)
}

func TestRulesDuplicateContent(t *testing.T) {
	ev := engine.NewRuleEvaluator(slog.Default())
	cfg := qaConfig()
	const content = "Great service, arrived on time and finished under budget."

	d, err := ev.Evaluate(context.Background(), cfg, reviewTask("rev_a", content))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprove, d.Value)

	// Identical content from another target is flagged.
	d, err = ev.Evaluate(context.Background(), cfg, reviewTask("rev_b", content))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionFlagForReview, d.Value)

	// Re-evaluating the same target is not its own duplicate.
	d, err = ev.Evaluate(context.Background(), cfg, reviewTask("rev_a", content))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprove, d.Value)
}
