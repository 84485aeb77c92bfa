package runtime_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/vetted/internal/engine"
	"github.com/servicehub/vetted/internal/metrics"
	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/queue"
	"github.com/servicehub/vetted/internal/registry"
	"github.com/servicehub/vetted/internal/runtime"
	"github.com/servicehub/vetted/internal/storage"
)

// scriptedEvaluator returns canned results and records call times.
type scriptedEvaluator struct {
	mu      sync.Mutex
	calls   []time.Time
	results []func() (model.Decision, error)
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ model.AgentConfig, _ model.Task) (model.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, time.Now())
	i := len(e.calls) - 1
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	return e.results[i]()
}

func (e *scriptedEvaluator) callTimes() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]time.Time, len(e.calls))
	copy(out, e.calls)
	return out
}

func approveResult() (model.Decision, error) {
	return model.Decision{Value: model.DecisionApprove, Confidence: 95, Risk: 5, Reasoning: "ok"}, nil
}

func transientResult() (model.Decision, error) {
	return model.Decision{}, registry.ErrUnavailable
}

func testAgent(active bool) model.AgentConfig {
	return model.AgentConfig{
		ID:                   "qa_agent",
		Name:                 "QA",
		Type:                 model.AgentQA,
		Active:               active,
		Priority:             model.PriorityMedium,
		AutoApproveEnabled:   true,
		AutoApproveThreshold: 90,
		MinConfidence:        40,
		MaxRisk:              50,
	}
}

func testTask() model.Task {
	return model.Task{
		ID:         uuid.New(),
		AgentID:    "qa_agent",
		Type:       model.TaskQualityCheck,
		Priority:   model.PriorityMedium,
		Status:     model.TaskPending,
		TargetID:   "rev_1",
		TargetKind: model.TargetReview,
		CreatedAt:  time.Now().UTC(),
	}
}

// newRuntime wires a runtime around a scripted evaluator and returns the
// pieces the test needs plus a stop func that drains the loops.
func newRuntime(t *testing.T, ev engine.Evaluator, cfg model.AgentConfig, opts ...runtime.Option) (*runtime.Runtime, *queue.Queue, *storage.Memory, func()) {
	t.Helper()
	mem := storage.NewMemory()
	q := queue.New()
	eng := engine.New(map[model.AgentType]engine.Evaluator{cfg.Type: ev})
	r := runtime.New(q, eng, mem, mem, metrics.New(mem), slog.Default(), opts...)
	require.NoError(t, r.Register(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	stop := func() {
		cancel()
		_ = r.Wait()
	}
	return r, q, mem, stop
}

func waitForStatus(t *testing.T, mem *storage.Memory, taskID uuid.UUID, want model.TaskStatus) model.Task {
	t.Helper()
	var got model.Task
	require.Eventually(t, func() bool {
		task, err := mem.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return got
}

func TestRuntimeCompletesTask(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	_, q, mem, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	got := waitForStatus(t, mem, task.ID, model.TaskCompleted)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "approve", got.Result["value"])

	d, err := mem.GetDecisionByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApprove, d.Value)
	assert.False(t, d.HumanReviewRequired)
}

func TestRuntimeRoutesToHuman(t *testing.T) {
	lowConfidence := func() (model.Decision, error) {
		return model.Decision{Value: model.DecisionApprove, Confidence: 30, Risk: 5, Reasoning: "thin"}, nil
	}
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){lowConfidence}}
	_, q, mem, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	got := waitForStatus(t, mem, task.ID, model.TaskRequiresHuman)
	assert.Nil(t, got.CompletedAt)

	d, err := mem.GetDecisionByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, d.HumanReviewRequired)
}

func TestRuntimeRetriesTransientExactlyThreeTimes(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){transientResult}}
	_, q, mem, stop := newRuntime(t, ev, testAgent(true),
		runtime.WithRetryPolicy(3, 40*time.Millisecond, time.Second))
	defer stop()

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	got := waitForStatus(t, mem, task.ID, model.TaskFailed)
	assert.Equal(t, 4, got.Attempts, "initial attempt plus three retries")
	assert.Contains(t, got.Error, "unavailable")

	calls := ev.callTimes()
	require.Len(t, calls, 4)
	// Backoff strictly increases: ~40ms, ~80ms, ~160ms.
	gap1 := calls[1].Sub(calls[0])
	gap2 := calls[2].Sub(calls[1])
	gap3 := calls[3].Sub(calls[2])
	assert.Greater(t, gap2, gap1)
	assert.Greater(t, gap3, gap2)
}

func TestRuntimeRetryRecovers(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){transientResult, approveResult}}
	_, q, mem, stop := newRuntime(t, ev, testAgent(true),
		runtime.WithRetryPolicy(3, 5*time.Millisecond, 50*time.Millisecond))
	defer stop()

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	got := waitForStatus(t, mem, task.ID, model.TaskCompleted)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.Error)
}

func TestRuntimeEmergencyStopAndRestart(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	r, q, mem, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	r.EmergencyStopAll()
	require.Eventually(t, func() bool {
		snap, err := r.Snapshot("qa_agent")
		return err == nil && snap.Status == model.StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	// Stopped agents must not pick up work.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ev.callTimes())
	assert.Equal(t, 1, q.Size("qa_agent"))

	r.RestartAll()
	waitForStatus(t, mem, task.ID, model.TaskCompleted)
}

func TestRuntimeDeactivatedAgentNeverDequeues(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	r, q, mem, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	// Deactivate while the loop is blocked waiting for work, then feed it.
	require.NoError(t, r.SetAgentActive("qa_agent", false))
	require.Eventually(t, func() bool {
		snap, err := r.Snapshot("qa_agent")
		return err == nil && snap.Status == model.StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	// The task must sit until reactivation, however long that takes.
	time.Sleep(75 * time.Millisecond)
	assert.Empty(t, ev.callTimes())
	assert.Equal(t, 1, q.Size("qa_agent"))
	_, err := mem.GetTask(context.Background(), task.ID)
	require.ErrorIs(t, err, storage.ErrNotFound, "runtime never touched the task")

	require.NoError(t, r.SetAgentActive("qa_agent", true))
	waitForStatus(t, mem, task.ID, model.TaskCompleted)
}

func TestRuntimeInactiveAgentParks(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	r, q, mem, stop := newRuntime(t, ev, testAgent(false))
	defer stop()

	task := testTask()
	require.NoError(t, q.Enqueue(task))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ev.callTimes())

	require.NoError(t, r.SetAgentActive("qa_agent", true))
	waitForStatus(t, mem, task.ID, model.TaskCompleted)

	snap, err := r.Snapshot("qa_agent")
	require.NoError(t, err)
	assert.True(t, snap.Config.Active)
	assert.NotZero(t, snap.LastActive)
}

func TestRuntimeConfigMutationBetweenTasks(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	r, q, mem, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	first := testTask()
	require.NoError(t, q.Enqueue(first))
	waitForStatus(t, mem, first.ID, model.TaskCompleted)

	// Disable auto-approval; the next identical score must route to a human.
	cfg := testAgent(true)
	cfg.AutoApproveEnabled = false
	require.NoError(t, r.UpdateConfig(cfg))

	second := testTask()
	require.NoError(t, q.Enqueue(second))
	waitForStatus(t, mem, second.ID, model.TaskRequiresHuman)
}

func TestRuntimeUnknownAgent(t *testing.T) {
	ev := &scriptedEvaluator{results: []func() (model.Decision, error){approveResult}}
	r, _, _, stop := newRuntime(t, ev, testAgent(true))
	defer stop()

	assert.ErrorIs(t, r.SetAgentActive("nope", true), runtime.ErrUnknownAgent)
	_, err := r.Snapshot("nope")
	assert.ErrorIs(t, err, runtime.ErrUnknownAgent)
}
