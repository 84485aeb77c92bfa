// Package runtime schedules one evaluation loop per registered agent.
// Loops run concurrently with each other; within an agent, tasks are
// strictly sequential, so an agent never races itself on a target.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/servicehub/vetted/internal/engine"
	"github.com/servicehub/vetted/internal/metrics"
	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/queue"
	"github.com/servicehub/vetted/internal/storage"
)

// ErrUnknownAgent is returned for operations on an agent ID that was never
// registered.
var ErrUnknownAgent = errors.New("runtime: unknown agent")

// DecisionApplier applies a completed decision's domain side effects, such
// as writing a provider's KYC status. Called only for tasks that complete
// without human sign-off; human resolutions apply through the control plane.
type DecisionApplier interface {
	ApplyDecision(ctx context.Context, task model.Task, d model.Decision) error
}

// Retry policy for transient failures. The budget counts retries after the
// first attempt; each wait doubles from the base up to the cap.
const (
	defaultRetryBudget = 3
	defaultRetryBase   = time.Second
	defaultRetryCap    = 30 * time.Second
)

// agentState is the mutable half of one agent. Config mutations land here
// and are picked up as a snapshot at the top of each loop iteration, never
// mid-evaluation.
type agentState struct {
	mu            sync.Mutex
	cfg           model.AgentConfig
	status        model.AgentStatus
	lastActive    time.Time
	wake          chan struct{}
	cancelDequeue context.CancelFunc
}

func (s *agentState) snapshot() model.AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *agentState) setStatus(st model.AgentStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *agentState) touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// setActive flips the active flag, waking a paused loop or cancelling a
// blocked dequeue as needed. Caller must not hold s.mu.
func (s *agentState) setActive(active bool) {
	s.mu.Lock()
	s.cfg.Active = active
	cancel := s.cancelDequeue
	s.mu.Unlock()

	if active {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	} else if cancel != nil {
		cancel()
	}
}

// Runtime owns the agent loops and their shared collaborators.
type Runtime struct {
	queue     *queue.Queue
	engine    *engine.Engine
	tasks     storage.TaskStore
	decisions storage.DecisionStore
	agg       *metrics.Aggregator
	logger    *slog.Logger
	applier   DecisionApplier

	retryBudget int
	retryBase   time.Duration
	retryCap    time.Duration

	mu      sync.RWMutex
	agents  map[string]*agentState
	started bool
	group   *errgroup.Group

	retryMu sync.Mutex
	retries map[uuid.UUID]*backoff.ExponentialBackOff
}

// Option tunes a Runtime.
type Option func(*Runtime)

// WithRetryPolicy overrides the transient-failure retry budget and backoff
// bounds. Tests shrink the base to keep retries fast.
func WithRetryPolicy(budget int, base, cap time.Duration) Option {
	return func(r *Runtime) {
		r.retryBudget = budget
		r.retryBase = base
		r.retryCap = cap
	}
}

// WithApplier installs a decision applier for auto-completed tasks.
func WithApplier(a DecisionApplier) Option {
	return func(r *Runtime) { r.applier = a }
}

// New creates a runtime. Register agents, then Start.
func New(q *queue.Queue, eng *engine.Engine, tasks storage.TaskStore, decisions storage.DecisionStore, agg *metrics.Aggregator, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		queue:       q,
		engine:      eng,
		tasks:       tasks,
		decisions:   decisions,
		agg:         agg,
		logger:      logger,
		retryBudget: defaultRetryBudget,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		agents:      make(map[string]*agentState),
		retries:     make(map[uuid.UUID]*backoff.ExponentialBackOff),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent before the runtime starts.
func (r *Runtime) Register(cfg model.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime: cannot register %s after start", cfg.ID)
	}
	if _, exists := r.agents[cfg.ID]; exists {
		return fmt.Errorf("runtime: agent %s already registered", cfg.ID)
	}
	r.agents[cfg.ID] = &agentState{
		cfg:    cfg,
		status: model.StatusPaused,
		wake:   make(chan struct{}, 1),
	}
	return nil
}

// Start launches one loop per registered agent. It returns immediately;
// Wait blocks until every loop has exited after ctx cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runtime: already started")
	}
	r.started = true

	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	for id, st := range r.agents {
		g.Go(func() error {
			r.runAgent(gctx, id, st)
			return nil
		})
	}
	r.logger.Info("runtime: started", "agents", len(r.agents))
	return nil
}

// Wait blocks until all agent loops and pending retry timers are done.
func (r *Runtime) Wait() error {
	r.mu.RLock()
	g := r.group
	r.mu.RUnlock()
	if g == nil {
		return errors.New("runtime: not started")
	}
	return g.Wait()
}

func (r *Runtime) runAgent(ctx context.Context, id string, st *agentState) {
	for ctx.Err() == nil {
		cfg := st.snapshot()
		if !cfg.Active {
			st.setStatus(model.StatusPaused)
			select {
			case <-ctx.Done():
				return
			case <-st.wake:
			}
			continue
		}

		st.setStatus(model.StatusOnline)
		dqCtx, cancel := context.WithCancel(ctx)
		st.mu.Lock()
		// Re-check under the same lock setActive takes: a deactivation that
		// landed after the snapshot above would otherwise find cancelDequeue
		// nil and cancel nothing, leaving this loop to dequeue while paused.
		if !st.cfg.Active {
			st.mu.Unlock()
			cancel()
			continue
		}
		st.cancelDequeue = cancel
		st.mu.Unlock()

		task, err := r.queue.Dequeue(dqCtx, id)

		st.mu.Lock()
		st.cancelDequeue = nil
		st.mu.Unlock()
		cancel()

		if err != nil {
			// Cancelled: either shutdown or deactivation. Loop re-reads
			// the active flag and either exits or parks.
			continue
		}
		r.process(ctx, st, task)
	}
}

// process runs one task to a decision or a retry. It uses the loop's parent
// context, so deactivating the agent never aborts in-flight work.
func (r *Runtime) process(ctx context.Context, st *agentState, task model.Task) {
	cfg := st.snapshot()
	st.setStatus(model.StatusBusy)
	defer st.touch()

	start := time.Now().UTC()
	task.Status = model.TaskProcessing
	task.Attempts++
	task.ProcessedAt = &start
	if err := r.tasks.SaveTask(ctx, task); err != nil {
		r.logger.Error("runtime: save task", "task_id", task.ID, "error", err)
	}

	d, err := r.engine.Evaluate(ctx, cfg, task)
	if err != nil {
		r.handleTransient(ctx, st, task, err)
		return
	}

	status := engine.Route(cfg, &d)
	if err := r.decisions.AppendDecision(ctx, d); err != nil {
		if errors.Is(err, storage.ErrDecisionExists) {
			r.logger.Warn("runtime: task already decided", "task_id", task.ID)
		} else {
			r.handleTransient(ctx, st, task, err)
			return
		}
	}

	task.Status = status
	task.Error = ""
	task.Result = map[string]any{
		"decision_id": d.ID.String(),
		"value":       string(d.Value),
		"confidence":  d.Confidence,
		"risk":        d.Risk,
	}
	if status.Terminal() {
		done := time.Now().UTC()
		task.CompletedAt = &done
	}
	if err := r.tasks.SaveTask(ctx, task); err != nil {
		r.logger.Error("runtime: save task outcome", "task_id", task.ID, "error", err)
	}
	r.clearRetry(task.ID)

	if status == model.TaskCompleted && r.applier != nil {
		if err := r.applier.ApplyDecision(ctx, task, d); err != nil {
			r.logger.Error("runtime: apply decision", "task_id", task.ID, "error", err)
		}
	}

	st.setStatus(model.StatusOnline)
	if status.Terminal() {
		r.agg.RecordTerminal(ctx, cfg.ID, status, time.Since(start))
	}
	r.logger.Info("runtime: task evaluated",
		"agent_id", cfg.ID,
		"task_id", task.ID,
		"status", string(status),
		"value", string(d.Value),
		"confidence", d.Confidence,
		"risk", d.Risk,
	)
}

// handleTransient schedules a retry inside the budget, or fails the task
// permanently once it is spent.
func (r *Runtime) handleTransient(ctx context.Context, st *agentState, task model.Task, cause error) {
	st.setStatus(model.StatusError)
	task.Error = cause.Error()
	agentID := task.AgentID

	if task.Attempts > r.retryBudget {
		task.Status = model.TaskFailed
		done := time.Now().UTC()
		task.CompletedAt = &done
		if err := r.tasks.SaveTask(ctx, task); err != nil {
			r.logger.Error("runtime: save failed task", "task_id", task.ID, "error", err)
		}
		r.clearRetry(task.ID)
		var elapsed time.Duration
		if task.ProcessedAt != nil {
			elapsed = done.Sub(*task.ProcessedAt)
		}
		r.agg.RecordTerminal(ctx, agentID, model.TaskFailed, elapsed)
		r.logger.Error("runtime: retry budget exhausted",
			"agent_id", agentID, "task_id", task.ID, "attempts", task.Attempts, "error", cause)
		return
	}

	delay := r.nextDelay(task.ID)
	task.Status = model.TaskPending
	if err := r.tasks.SaveTask(ctx, task); err != nil {
		r.logger.Error("runtime: save retrying task", "task_id", task.ID, "error", err)
	}
	r.logger.Warn("runtime: transient failure, retrying",
		"agent_id", agentID, "task_id", task.ID, "attempt", task.Attempts, "delay", delay, "error", cause)

	r.group.Go(func() error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if err := r.queue.Requeue(task); err != nil {
			r.logger.Error("runtime: requeue", "task_id", task.ID, "error", err)
		}
		return nil
	})
}

// nextDelay returns the task's next backoff interval, doubling per attempt
// from the base up to the cap.
func (r *Runtime) nextDelay(taskID uuid.UUID) time.Duration {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	bo, ok := r.retries[taskID]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = r.retryBase
		bo.RandomizationFactor = 0
		bo.Multiplier = 2
		bo.MaxInterval = r.retryCap
		bo.MaxElapsedTime = 0
		bo.Reset()
		r.retries[taskID] = bo
	}
	return bo.NextBackOff()
}

func (r *Runtime) clearRetry(taskID uuid.UUID) {
	r.retryMu.Lock()
	delete(r.retries, taskID)
	r.retryMu.Unlock()
}

func (r *Runtime) state(agentID string) (*agentState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return st, nil
}

// SetAgentActive activates or deactivates one agent. Deactivation stops the
// loop from dequeuing but leaves any in-flight task running.
func (r *Runtime) SetAgentActive(agentID string, active bool) error {
	st, err := r.state(agentID)
	if err != nil {
		return err
	}
	st.setActive(active)
	r.logger.Info("runtime: agent active flag changed", "agent_id", agentID, "active", active)
	return nil
}

// UpdateConfig replaces an agent's configuration. Applied between tasks:
// the running loop snapshots config once per iteration.
func (r *Runtime) UpdateConfig(cfg model.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	st, err := r.state(cfg.ID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	wasActive := st.cfg.Active
	st.cfg = cfg
	st.mu.Unlock()
	if cfg.Active != wasActive {
		st.setActive(cfg.Active)
	}
	return nil
}

// Config returns a copy of an agent's current configuration.
func (r *Runtime) Config(agentID string) (model.AgentConfig, error) {
	st, err := r.state(agentID)
	if err != nil {
		return model.AgentConfig{}, err
	}
	return st.snapshot(), nil
}

// EmergencyStopAll deactivates every agent atomically: no loop dequeues a
// new task after this returns. In-flight tasks run to completion.
func (r *Runtime) EmergencyStopAll() {
	r.mu.Lock()
	agents := make([]*agentState, 0, len(r.agents))
	for _, st := range r.agents {
		agents = append(agents, st)
	}
	r.mu.Unlock()

	for _, st := range agents {
		st.setActive(false)
	}
	r.logger.Warn("runtime: emergency stop, all agents deactivated")
}

// RestartAll reactivates every agent. Loops resume from their queue heads;
// queue state is untouched by runtime activity, so no task is lost.
func (r *Runtime) RestartAll() {
	r.mu.Lock()
	agents := make([]*agentState, 0, len(r.agents))
	for _, st := range r.agents {
		agents = append(agents, st)
	}
	r.mu.Unlock()

	for _, st := range agents {
		st.setActive(true)
	}
	r.logger.Info("runtime: all agents reactivated")
}

// Snapshot returns a point-in-time view of one agent.
func (r *Runtime) Snapshot(agentID string) (model.AgentSnapshot, error) {
	st, err := r.state(agentID)
	if err != nil {
		return model.AgentSnapshot{}, err
	}
	st.mu.Lock()
	snap := model.AgentSnapshot{
		Config:     st.cfg,
		Status:     st.status,
		LastActive: st.lastActive,
	}
	st.mu.Unlock()
	snap.QueueDepth = r.queue.Size(agentID)
	return snap, nil
}

// Snapshots returns a view of every agent, ordered by agent ID.
func (r *Runtime) Snapshots() []model.AgentSnapshot {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	out := make([]model.AgentSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := r.Snapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}
