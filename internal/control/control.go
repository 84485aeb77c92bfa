// Package control is the operator-facing surface of the pipeline: enqueue
// and cancel tasks, inspect and tune agents, and resolve tasks waiting on a
// human. It is an in-process API; transport layers belong to the caller.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/servicehub/vetted/internal/metrics"
	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/queue"
	"github.com/servicehub/vetted/internal/runtime"
	"github.com/servicehub/vetted/internal/storage"
)

var (
	// ErrNotAwaitingReview is returned when resolving a task that is not
	// in requires_human.
	ErrNotAwaitingReview = errors.New("control: task not awaiting review")

	// ErrNoKYCAgent is returned by bulk KYC enqueue when no active KYC
	// agent is registered.
	ErrNoKYCAgent = errors.New("control: no active kyc agent")
)

// kycTaskNamespace derives stable task IDs for bulk KYC enqueues, so
// re-running the bulk operation never duplicates work.
var kycTaskNamespace = uuid.MustParse("8f0e2ab4-41db-4f19-9f5e-6d3c1a2b7c90")

// EnqueueParams describes one task to enqueue.
type EnqueueParams struct {
	// TaskID is optional; a zero value gets a fresh random ID. Callers
	// that need idempotent enqueues derive their own stable IDs.
	TaskID     uuid.UUID
	AgentID    string
	Type       model.TaskType
	TargetID   string
	TargetKind model.TargetKind
	Payload    map[string]any

	// Priority overrides the agent's default when set.
	Priority model.Priority
}

// Plane wires the operator surface over the runtime, queue, and stores.
type Plane struct {
	runtime   *runtime.Runtime
	queue     *queue.Queue
	tasks     storage.TaskStore
	decisions storage.DecisionStore
	providers storage.ProviderStore
	agg       *metrics.Aggregator
	logger    *slog.Logger
}

// New creates a control plane.
func New(rt *runtime.Runtime, q *queue.Queue, tasks storage.TaskStore, decisions storage.DecisionStore, providers storage.ProviderStore, agg *metrics.Aggregator, logger *slog.Logger) *Plane {
	return &Plane{
		runtime:   rt,
		queue:     q,
		tasks:     tasks,
		decisions: decisions,
		providers: providers,
		agg:       agg,
		logger:    logger,
	}
}

// EnqueueTask validates and enqueues one task. Duplicate task IDs are
// rejected with queue.ErrDuplicateTask and leave all state unchanged.
func (p *Plane) EnqueueTask(ctx context.Context, params EnqueueParams) (model.Task, error) {
	cfg, err := p.runtime.Config(params.AgentID)
	if err != nil {
		return model.Task{}, err
	}
	if params.TargetID == "" {
		return model.Task{}, errors.New("control: target id is required")
	}

	priority := params.Priority
	if priority == "" {
		priority = cfg.Priority
	}
	if model.PriorityRank(priority) == 0 {
		return model.Task{}, fmt.Errorf("control: unknown priority %q", priority)
	}

	id := params.TaskID
	if id == uuid.Nil {
		id = uuid.New()
	}
	task := model.Task{
		ID:         id,
		AgentID:    params.AgentID,
		Type:       params.Type,
		Priority:   priority,
		Status:     model.TaskPending,
		TargetID:   params.TargetID,
		TargetKind: params.TargetKind,
		Payload:    params.Payload,
		CreatedAt:  time.Now().UTC(),
	}

	if err := p.queue.Enqueue(task); err != nil {
		return model.Task{}, err
	}
	if err := p.tasks.SaveTask(ctx, task); err != nil {
		p.logger.Error("control: save enqueued task", "task_id", task.ID, "error", err)
	}
	p.logger.Info("control: task enqueued",
		"task_id", task.ID, "agent_id", task.AgentID, "priority", string(priority))
	return task, nil
}

// CancelTask removes a task that is still pending. Processing and finished
// tasks cannot be cancelled.
func (p *Plane) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := p.queue.Cancel(taskID)
	if err != nil {
		return err
	}
	task.Status = model.TaskFailed
	task.Error = "cancelled by operator"
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := p.tasks.SaveTask(ctx, task); err != nil {
		p.logger.Error("control: save cancelled task", "task_id", taskID, "error", err)
	}
	p.logger.Info("control: task cancelled", "task_id", taskID)
	return nil
}

// AgentStatus returns one agent's snapshot.
func (p *Plane) AgentStatus(agentID string) (model.AgentSnapshot, error) {
	return p.runtime.Snapshot(agentID)
}

// Agents returns every agent's snapshot, ordered by agent ID.
func (p *Plane) Agents() []model.AgentSnapshot {
	return p.runtime.Snapshots()
}

// AgentMetrics returns the rolling rollup for one agent and window.
func (p *Plane) AgentMetrics(ctx context.Context, agentID string, w model.Window) (model.AgentMetrics, error) {
	if _, err := p.runtime.Config(agentID); err != nil {
		return model.AgentMetrics{}, err
	}
	return p.agg.AgentMetrics(ctx, agentID, w)
}

// SetAgentActive activates or deactivates one agent.
func (p *Plane) SetAgentActive(agentID string, active bool) error {
	return p.runtime.SetAgentActive(agentID, active)
}

// SetAutoApproval updates one agent's auto-approval policy. The threshold
// is validated against the scoring range before it can reach a task.
func (p *Plane) SetAutoApproval(agentID string, enabled bool, threshold float64) error {
	cfg, err := p.runtime.Config(agentID)
	if err != nil {
		return err
	}
	cfg.AutoApproveEnabled = enabled
	cfg.AutoApproveThreshold = threshold
	if err := p.runtime.UpdateConfig(cfg); err != nil {
		return err
	}
	p.logger.Info("control: auto-approval updated",
		"agent_id", agentID, "enabled", enabled, "threshold", threshold)
	return nil
}

// EmergencyStopAll deactivates every agent.
func (p *Plane) EmergencyStopAll() {
	p.runtime.EmergencyStopAll()
}

// RestartAll reactivates every agent.
func (p *Plane) RestartAll() {
	p.runtime.RestartAll()
}

// BulkEnqueuePendingKYC enqueues one identity verification task for every
// provider still pending KYC, targeting the first active KYC agent. Task IDs
// derive from the provider ID, so re-running skips already-enqueued work.
// Returns the number of newly enqueued tasks.
func (p *Plane) BulkEnqueuePendingKYC(ctx context.Context) (int, error) {
	var agentID string
	for _, snap := range p.runtime.Snapshots() {
		if snap.Config.Type == model.AgentKYC && snap.Config.Active {
			agentID = snap.Config.ID
			break
		}
	}
	if agentID == "" {
		return 0, ErrNoKYCAgent
	}

	pending, err := p.providers.ListProvidersByKYCStatus(ctx, model.KYCPending)
	if err != nil {
		return 0, fmt.Errorf("control: list pending providers: %w", err)
	}

	enqueued := 0
	for _, prov := range pending {
		_, err := p.EnqueueTask(ctx, EnqueueParams{
			TaskID:     uuid.NewSHA1(kycTaskNamespace, []byte(prov.ID)),
			AgentID:    agentID,
			Type:       model.TaskVerifyIdentity,
			TargetID:   prov.ID,
			TargetKind: model.TargetProvider,
			Payload:    map[string]any{"provider_id": prov.ID},
		})
		if errors.Is(err, queue.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}
	p.logger.Info("control: bulk kyc enqueue",
		"agent_id", agentID, "pending", len(pending), "enqueued", enqueued)
	return enqueued, nil
}

// RequeuePending reloads tasks the stores hold in pending back onto the
// queue, typically after a restart emptied the in-memory queue. Tasks are
// re-enqueued as stored, original IDs and priorities intact; ones already
// on the queue are skipped. Returns the number of tasks re-enqueued.
func (p *Plane) RequeuePending(ctx context.Context) (int, error) {
	pending, err := p.tasks.ListTasksByStatus(ctx, model.TaskPending)
	if err != nil {
		return 0, fmt.Errorf("control: list pending tasks: %w", err)
	}

	requeued := 0
	for _, task := range pending {
		err := p.queue.Enqueue(task)
		if errors.Is(err, queue.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return requeued, fmt.Errorf("control: requeue task %s: %w", task.ID, err)
		}
		requeued++
	}
	if requeued > 0 {
		p.logger.Info("control: pending tasks requeued",
			"pending", len(pending), "requeued", requeued)
	}
	return requeued, nil
}

// ResolveHumanReview applies a human's call on a task parked in
// requires_human. The task transitions to completed; when the human
// disagrees with the recorded decision, the decision is marked overridden.
// KYC tasks additionally write the provider's KYC status.
func (p *Plane) ResolveHumanReview(ctx context.Context, taskID uuid.UUID, approve bool, note string) error {
	task, err := p.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != model.TaskRequiresHuman {
		return fmt.Errorf("%w: %s is %s", ErrNotAwaitingReview, taskID, task.Status)
	}

	d, err := p.decisions.GetDecisionByTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("control: decision for task %s: %w", taskID, err)
	}
	recommendedApprove := d.Value == model.DecisionApprove
	overridden := approve != recommendedApprove
	if err := p.decisions.MarkResolved(ctx, taskID, overridden); err != nil {
		return fmt.Errorf("control: mark resolved: %w", err)
	}

	outcome := "rejected"
	if approve {
		outcome = "approved"
	}
	task.Status = model.TaskCompleted
	now := time.Now().UTC()
	task.CompletedAt = &now
	if task.Result == nil {
		task.Result = make(map[string]any)
	}
	task.Result["human_resolution"] = outcome
	if note != "" {
		task.Result["note"] = note
	}
	if err := p.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("control: save resolved task: %w", err)
	}

	if task.Type == model.TaskVerifyIdentity && task.TargetKind == model.TargetProvider {
		status := model.KYCRejected
		if approve {
			status = model.KYCVerified
		}
		if err := p.providers.UpdateKYCStatus(ctx, task.TargetID, status); err != nil {
			return fmt.Errorf("control: update kyc status for %s: %w", task.TargetID, err)
		}
	}

	p.agg.RecordTerminal(ctx, task.AgentID, model.TaskCompleted, 0)
	p.logger.Info("control: human review resolved",
		"task_id", taskID, "outcome", outcome, "overridden", overridden)
	return nil
}

// FailedTasks lists tasks that exhausted their retries or were cancelled,
// distinct from tasks waiting on a human.
func (p *Plane) FailedTasks(ctx context.Context) ([]model.Task, error) {
	return p.tasks.ListTasksByStatus(ctx, model.TaskFailed)
}

// TasksAwaitingReview lists tasks parked in requires_human.
func (p *Plane) TasksAwaitingReview(ctx context.Context) ([]model.Task, error) {
	return p.tasks.ListTasksByStatus(ctx, model.TaskRequiresHuman)
}
