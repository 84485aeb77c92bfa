package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/vetted/internal/model"
)

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, model.TaskCompleted.Terminal())
	assert.True(t, model.TaskFailed.Terminal())
	assert.False(t, model.TaskPending.Terminal())
	assert.False(t, model.TaskProcessing.Terminal())
	// requires_human is a suspended state, not terminal: a human resolves it.
	assert.False(t, model.TaskRequiresHuman.Terminal())
}

func TestTaskStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from model.TaskStatus
		to   model.TaskStatus
		want bool
	}{
		{"pending to processing", model.TaskPending, model.TaskProcessing, true},
		{"pending skips to completed", model.TaskPending, model.TaskCompleted, false},
		{"pending skips to failed", model.TaskPending, model.TaskFailed, false},
		{"processing to completed", model.TaskProcessing, model.TaskCompleted, true},
		{"processing to failed", model.TaskProcessing, model.TaskFailed, true},
		{"processing to requires_human", model.TaskProcessing, model.TaskRequiresHuman, true},
		{"processing retry re-enters pending", model.TaskProcessing, model.TaskPending, true},
		{"requires_human to completed", model.TaskRequiresHuman, model.TaskCompleted, true},
		{"requires_human to failed", model.TaskRequiresHuman, model.TaskFailed, true},
		{"requires_human back to processing", model.TaskRequiresHuman, model.TaskProcessing, false},
		{"completed is terminal", model.TaskCompleted, model.TaskPending, false},
		{"completed to failed", model.TaskCompleted, model.TaskFailed, false},
		{"failed is terminal", model.TaskFailed, model.TaskPending, false},
		{"failed to completed", model.TaskFailed, model.TaskCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPriorityRank(t *testing.T) {
	// Strict ordering: critical > high > medium > low > unknown.
	ordered := []model.Priority{
		model.Priority("bogus"),
		model.PriorityLow,
		model.PriorityMedium,
		model.PriorityHigh,
		model.PriorityCritical,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, model.PriorityRank(ordered[i]), model.PriorityRank(ordered[i-1]),
			"%q should rank higher than %q", ordered[i], ordered[i-1])
	}
}

func TestPayloadString(t *testing.T) {
	task := model.Task{Payload: map[string]any{
		"claimed_name": "Dilip Vaishnav",
		"attempt":      3,
	}}
	assert.Equal(t, "Dilip Vaishnav", task.PayloadString("claimed_name"))
	assert.Equal(t, "", task.PayloadString("attempt"), "non-string value")
	assert.Equal(t, "", task.PayloadString("missing"))
	assert.Equal(t, "", model.Task{}.PayloadString("anything"), "nil payload")
}

func TestAgentConfigValidate(t *testing.T) {
	valid := model.AgentConfig{
		ID:                   "kyc-primary",
		Name:                 "Primary KYC",
		Type:                 model.AgentKYC,
		Active:               true,
		Priority:             model.PriorityHigh,
		AutoApproveEnabled:   true,
		AutoApproveThreshold: 85,
		MinConfidence:        60,
		MaxRisk:              40,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*model.AgentConfig)
		want   string
	}{
		{"empty id", func(c *model.AgentConfig) { c.ID = "" }, "agent id is required"},
		{"uppercase id", func(c *model.AgentConfig) { c.ID = "KYC" }, "lowercase"},
		{"unknown type", func(c *model.AgentConfig) { c.Type = "sentiment" }, "unknown agent type"},
		{"unknown priority", func(c *model.AgentConfig) { c.Priority = "urgent" }, "unknown priority"},
		{"threshold over 100", func(c *model.AgentConfig) { c.AutoApproveThreshold = 101 }, "auto_approve_threshold"},
		{"threshold negative", func(c *model.AgentConfig) { c.AutoApproveThreshold = -1 }, "auto_approve_threshold"},
		{"min confidence out of range", func(c *model.AgentConfig) { c.MinConfidence = 120 }, "min_confidence"},
		{"max risk out of range", func(c *model.AgentConfig) { c.MaxRisk = -5 }, "max_risk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecisionValidate(t *testing.T) {
	valid := model.Decision{
		Value:      model.DecisionApprove,
		Confidence: 92,
		Risk:       8,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*model.Decision)
	}{
		{"confidence above 100", func(d *model.Decision) { d.Confidence = 100.5 }},
		{"confidence negative", func(d *model.Decision) { d.Confidence = -0.1 }},
		{"risk above 100", func(d *model.Decision) { d.Risk = 101 }},
		{"unknown value", func(d *model.Decision) { d.Value = "defer" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}

	// Boundaries are inclusive.
	d := valid
	d.Confidence = 100
	d.Risk = 0
	assert.NoError(t, d.Validate())
}
