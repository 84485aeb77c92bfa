package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servicehub/vetted/internal/model"
)

// Memory is an in-process implementation of all three stores. It backs tests
// and single-node deployments where the collaborator's database is not
// wired in.
type Memory struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]model.Task
	decisions map[uuid.UUID]model.Decision // keyed by task ID
	providers map[string]model.Provider
}

// NewMemory creates empty in-memory stores.
func NewMemory() *Memory {
	return &Memory{
		tasks:     make(map[uuid.UUID]model.Task),
		decisions: make(map[uuid.UUID]model.Decision),
		providers: make(map[string]model.Provider),
	}
}

// SaveTask implements TaskStore.
func (m *Memory) SaveTask(_ context.Context, task model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

// GetTask implements TaskStore.
func (m *Memory) GetTask(_ context.Context, id uuid.UUID) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, nil
}

// ListTasksByStatus implements TaskStore. Results are ordered by creation
// time for stable snapshots.
func (m *Memory) ListTasksByStatus(_ context.Context, status model.TaskStatus) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Task
	for _, task := range m.tasks {
		if task.Status == status {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendDecision implements DecisionStore, enforcing one decision per task.
func (m *Memory) AppendDecision(_ context.Context, d model.Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.decisions[d.TaskID]; exists {
		return fmt.Errorf("%w: %s", ErrDecisionExists, d.TaskID)
	}
	m.decisions[d.TaskID] = d
	return nil
}

// GetDecisionByTask implements DecisionStore.
func (m *Memory) GetDecisionByTask(_ context.Context, taskID uuid.UUID) (model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[taskID]
	if !ok {
		return model.Decision{}, fmt.Errorf("decision for task %s: %w", taskID, ErrNotFound)
	}
	return d, nil
}

// ListDecisionsSince implements DecisionStore.
func (m *Memory) ListDecisionsSince(_ context.Context, agentID string, since time.Time) ([]model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Decision
	for _, d := range m.decisions {
		if d.AgentID == agentID && !d.ProcessedAt.Before(since) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out, nil
}

// MarkResolved implements DecisionStore.
func (m *Memory) MarkResolved(_ context.Context, taskID uuid.UUID, overridden bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[taskID]
	if !ok {
		return fmt.Errorf("decision for task %s: %w", taskID, ErrNotFound)
	}
	d.HumanResolved = true
	d.HumanOverridden = overridden
	m.decisions[taskID] = d
	return nil
}

// SeedProvider inserts or replaces a provider record. Test and dev helper;
// production provider records arrive through the collaborator's database.
func (m *Memory) SeedProvider(p model.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

// GetProvider implements ProviderStore.
func (m *Memory) GetProvider(_ context.Context, id string) (model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return model.Provider{}, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// ListProvidersByKYCStatus implements ProviderStore.
func (m *Memory) ListProvidersByKYCStatus(_ context.Context, status model.KYCStatus) ([]model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Provider
	for _, p := range m.providers {
		if p.KYCStatus == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountByDocuments returns how many providers other than excludeProviderID
// registered either of the given identity documents.
func (m *Memory) CountByDocuments(_ context.Context, excludeProviderID, nationalID, taxID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.providers {
		if p.ID == excludeProviderID {
			continue
		}
		if (nationalID != "" && p.NationalID == nationalID) || (taxID != "" && p.TaxID == taxID) {
			n++
		}
	}
	return n, nil
}

// UpdateKYCStatus implements ProviderStore.
func (m *Memory) UpdateKYCStatus(_ context.Context, id string, status model.KYCStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	p.KYCStatus = status
	m.providers[id] = p
	return nil
}
