// Package queue implements the per-agent task queue: priority-ordered,
// FIFO within priority, idempotent on task ID.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/servicehub/vetted/internal/model"
)

var (
	// ErrDuplicateTask is returned when a task ID has already been enqueued,
	// regardless of that task's current status.
	ErrDuplicateTask = errors.New("queue: duplicate task id")

	// ErrNotPending is returned by Cancel when the task is not waiting in a
	// queue: it was never enqueued, is in flight, or already finished.
	ErrNotPending = errors.New("queue: task not pending")
)

// item is one queued task plus its ordering key.
type item struct {
	task model.Task
	rank int    // priority rank, higher dequeues first
	seq  uint64 // global enqueue sequence, lower dequeues first within a rank
	pos  int    // heap index
}

// agentHeap orders items by rank desc, then seq asc. Sequence numbers are
// monotonic, so ordering within a priority is stable FIFO, with no aging and no
// starvation reordering.
type agentHeap []*item

func (h agentHeap) Len() int { return len(h) }
func (h agentHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}
func (h agentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *agentHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}
func (h *agentHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue holds one independent priority queue per agent. Safe for concurrent
// use by all agent loops and the control plane.
type Queue struct {
	mu      sync.Mutex
	heaps   map[string]*agentHeap
	queued  map[uuid.UUID]*item  // tasks currently waiting
	seen    map[uuid.UUID]uint64 // every id ever enqueued -> original sequence
	notify  map[string]chan struct{}
	nextSeq uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		heaps:  make(map[string]*agentHeap),
		queued: make(map[uuid.UUID]*item),
		seen:   make(map[uuid.UUID]uint64),
		notify: make(map[string]chan struct{}),
	}
}

// Enqueue adds a task to its agent's queue. Enqueuing an ID that was ever
// enqueued before is rejected with ErrDuplicateTask to prevent duplicate
// processing.
func (q *Queue) Enqueue(task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[task.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}

	seq := q.nextSeq
	q.nextSeq++
	q.seen[task.ID] = seq
	q.push(task, seq)
	return nil
}

// Requeue re-inserts a previously dequeued task at its original sequence, so
// a retried task keeps its place within its priority instead of moving to
// the back.
func (q *Queue) Requeue(task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, ok := q.seen[task.ID]
	if !ok {
		return fmt.Errorf("queue: requeue of unknown task %s", task.ID)
	}
	if _, waiting := q.queued[task.ID]; waiting {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	q.push(task, seq)
	return nil
}

// push inserts under q.mu and wakes the agent's waiter.
func (q *Queue) push(task model.Task, seq uint64) {
	h, ok := q.heaps[task.AgentID]
	if !ok {
		h = &agentHeap{}
		q.heaps[task.AgentID] = h
	}
	it := &item{task: task, rank: model.PriorityRank(task.Priority), seq: seq}
	heap.Push(h, it)
	q.queued[task.ID] = it

	select {
	case q.signal(task.AgentID) <- struct{}{}:
	default:
	}
}

// signal returns the wake channel for an agent, creating it on first use.
// Caller must hold q.mu.
func (q *Queue) signal(agentID string) chan struct{} {
	ch, ok := q.notify[agentID]
	if !ok {
		ch = make(chan struct{}, 1)
		q.notify[agentID] = ch
	}
	return ch
}

// Dequeue removes and returns the next task for agentID: highest priority
// first, FIFO within priority. It blocks while the agent's queue is empty
// until a task arrives or ctx is cancelled. A cancelled context never pops:
// the caller stopped consuming, so the task stays queued for whoever resumes.
func (q *Queue) Dequeue(ctx context.Context, agentID string) (model.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Task{}, fmt.Errorf("queue: dequeue %s: %w", agentID, err)
		}
		q.mu.Lock()
		if h, ok := q.heaps[agentID]; ok && h.Len() > 0 {
			it := heap.Pop(h).(*item)
			delete(q.queued, it.task.ID)
			q.mu.Unlock()
			return it.task, nil
		}
		ch := q.signal(agentID)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Task{}, fmt.Errorf("queue: dequeue %s: %w", agentID, ctx.Err())
		case <-ch:
		}
	}
}

// Cancel removes a task that is still waiting in its queue. Tasks in flight
// or finished cannot be cancelled.
func (q *Queue) Cancel(taskID uuid.UUID) (model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.queued[taskID]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotPending, taskID)
	}
	h := q.heaps[it.task.AgentID]
	heap.Remove(h, it.pos)
	delete(q.queued, taskID)
	return it.task, nil
}

// Size returns the number of tasks waiting for agentID.
func (q *Queue) Size(agentID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.heaps[agentID]; ok {
		return h.Len()
	}
	return 0
}

// Depths returns the waiting count per agent. Used by queue-depth gauges and
// control plane snapshots.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := make(map[string]int, len(q.heaps))
	for agentID, h := range q.heaps {
		depths[agentID] = h.Len()
	}
	return depths
}
