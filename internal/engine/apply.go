package engine

import (
	"context"
	"fmt"

	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/storage"
)

// KYCApplier writes auto-applied identity decisions back to the provider
// record: approve marks the provider verified, reject marks it rejected.
// Non-KYC tasks and advisory decision values are left alone.
type KYCApplier struct {
	providers storage.ProviderStore
}

// NewKYCApplier creates an applier over the given provider store.
func NewKYCApplier(providers storage.ProviderStore) *KYCApplier {
	return &KYCApplier{providers: providers}
}

// ApplyDecision applies a completed decision's side effects.
func (a *KYCApplier) ApplyDecision(ctx context.Context, task model.Task, d model.Decision) error {
	if task.Type != model.TaskVerifyIdentity || task.TargetKind != model.TargetProvider {
		return nil
	}
	var status model.KYCStatus
	switch d.Value {
	case model.DecisionApprove:
		status = model.KYCVerified
	case model.DecisionReject:
		status = model.KYCRejected
	default:
		return nil
	}
	if err := a.providers.UpdateKYCStatus(ctx, task.TargetID, status); err != nil {
		return fmt.Errorf("engine: apply kyc decision for %s: %w", task.TargetID, err)
	}
	return nil
}
