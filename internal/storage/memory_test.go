package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/storage"
)

func newTask(agentID string, status model.TaskStatus) model.Task {
	return model.Task{
		ID:         uuid.New(),
		AgentID:    agentID,
		Type:       model.TaskVerifyIdentity,
		Priority:   model.PriorityMedium,
		Status:     status,
		TargetID:   "prov_1",
		TargetKind: model.TargetProvider,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMemoryTaskStore(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	task := newTask("kyc_agent", model.TaskPending)
	require.NoError(t, mem.SaveTask(ctx, task))

	got, err := mem.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, model.TaskPending, got.Status)

	task.Status = model.TaskProcessing
	require.NoError(t, mem.SaveTask(ctx, task))
	got, err = mem.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, got.Status)

	_, err = mem.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := mem.ListTasksByStatus(ctx, model.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	processing, err := mem.ListTasksByStatus(ctx, model.TaskProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, task.ID, processing[0].ID)
}

func TestMemoryDecisionAppendOnce(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	taskID := uuid.New()
	first := model.Decision{
		ID:          uuid.New(),
		TaskID:      taskID,
		AgentID:     "kyc_agent",
		AgentType:   model.AgentKYC,
		TargetID:    "prov_1",
		Kind:        model.TargetProvider,
		Value:       model.DecisionApprove,
		Confidence:  92,
		Risk:        8,
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.AppendDecision(ctx, first))

	// A second terminal decision for the same task must be rejected.
	second := first
	second.ID = uuid.New()
	second.Value = model.DecisionReject
	err := mem.AppendDecision(ctx, second)
	assert.ErrorIs(t, err, storage.ErrDecisionExists)

	got, err := mem.GetDecisionByTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.DecisionApprove, got.Value)

	_, err = mem.GetDecisionByTask(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryListDecisionsSince(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	now := time.Now().UTC()

	for i, age := range []time.Duration{48 * time.Hour, 2 * time.Hour, 10 * time.Minute} {
		d := model.Decision{
			ID:          uuid.New(),
			TaskID:      uuid.New(),
			AgentID:     "kyc_agent",
			AgentType:   model.AgentKYC,
			TargetID:    "prov_1",
			Kind:        model.TargetProvider,
			Value:       model.DecisionApprove,
			Confidence:  float64(80 + i),
			Risk:        5,
			ProcessedAt: now.Add(-age),
		}
		require.NoError(t, mem.AppendDecision(ctx, d))
	}
	other := model.Decision{
		ID:          uuid.New(),
		TaskID:      uuid.New(),
		AgentID:     "fraud_agent",
		AgentType:   model.AgentFraud,
		TargetID:    "prov_2",
		Kind:        model.TargetProvider,
		Value:       model.DecisionFlagForReview,
		Confidence:  50,
		Risk:        70,
		ProcessedAt: now,
	}
	require.NoError(t, mem.AppendDecision(ctx, other))

	got, err := mem.ListDecisionsSince(ctx, "kyc_agent", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.Equal(t, "kyc_agent", d.AgentID)
		assert.True(t, d.ProcessedAt.After(now.Add(-24*time.Hour)))
	}
}

func TestMemoryMarkResolved(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	flagged := model.Decision{
		ID:          uuid.New(),
		TaskID:      uuid.New(),
		AgentID:     "kyc_agent",
		AgentType:   model.AgentKYC,
		TargetID:    "prov_1",
		Kind:        model.TargetProvider,
		Value:       model.DecisionFlagForReview,
		Confidence:  40,
		Risk:        55,
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.AppendDecision(ctx, flagged))
	require.NoError(t, mem.MarkResolved(ctx, flagged.TaskID, true))

	got, err := mem.GetDecisionByTask(ctx, flagged.TaskID)
	require.NoError(t, err)
	assert.True(t, got.HumanResolved)
	assert.True(t, got.HumanOverridden)

	// A confirming resolution records sign-off without an override.
	confirmed := flagged
	confirmed.ID = uuid.New()
	confirmed.TaskID = uuid.New()
	require.NoError(t, mem.AppendDecision(ctx, confirmed))
	require.NoError(t, mem.MarkResolved(ctx, confirmed.TaskID, false))

	got, err = mem.GetDecisionByTask(ctx, confirmed.TaskID)
	require.NoError(t, err)
	assert.True(t, got.HumanResolved)
	assert.False(t, got.HumanOverridden)

	assert.ErrorIs(t, mem.MarkResolved(ctx, uuid.New(), true), storage.ErrNotFound)
}

func TestMemoryProviderStore(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	mem.SeedProvider(model.Provider{
		ID:           "prov_1",
		Email:        "dilip@example.com",
		BusinessName: "Vaishnav Plumbing",
		OwnerName:    "Dilip Vaishnav",
		Phone:        "+919876543210",
		NationalID:   "123456789012",
		TaxID:        "ABCDE1234F",
		KYCStatus:    model.KYCPending,
	})
	mem.SeedProvider(model.Provider{ID: "prov_2", KYCStatus: model.KYCVerified})

	p, err := mem.GetProvider(ctx, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, "Dilip Vaishnav", p.OwnerName)

	_, err = mem.GetProvider(ctx, "prov_404")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := mem.ListProvidersByKYCStatus(ctx, model.KYCPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "prov_1", pending[0].ID)

	require.NoError(t, mem.UpdateKYCStatus(ctx, "prov_1", model.KYCVerified))
	p, err = mem.GetProvider(ctx, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, model.KYCVerified, p.KYCStatus)

	assert.ErrorIs(t, mem.UpdateKYCStatus(ctx, "prov_404", model.KYCRejected), storage.ErrNotFound)
}
