// Package workqueue runs risk tasks in-process under a concurrency strategy.
package workqueue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Queue manages task execution with configurable concurrency control.
// Failed tasks are not retried: the computations are deterministic.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy ConcurrencyStrategy

	// done is closed when all tasks complete
	done chan struct{}
	wg   sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	onUpdate func([]TaskSnapshot)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithContext derives the context handed to tasks from parent.
func WithContext(parent context.Context) QueueOption {
	return func(q *Queue) {
		q.cancel()
		q.ctx, q.cancel = context.WithCancel(parent)
	}
}

// New creates a work queue. The default strategy is SerializedStrategy.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:    make([]*TaskState, 0),
		strategy: NewSerializedStrategy(),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate sets the callback invoked when task state changes.
//
// The callback is invoked while holding the queue's internal lock: it must
// not call Queue methods.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue cancelled, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	// A closed done channel belongs to a previous batch
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Bool("requires_gmf", task.RequiresGMF()),
		zap.Float64("weight", task.Weight()))

	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
}

// tryStartTasksLocked starts every pending task the strategy admits.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		gmf := ts.Task.RequiresGMF()
		if !q.strategy.CanStart(gmf) {
			continue
		}

		q.strategy.OnStart(gmf)
		ts.SetStatus(TaskStatusRunning)
		q.notifyUpdateLocked()

		q.logger.Debug("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()
	err := ts.Task.Execute(q.ctx, q)
	q.complete(ts, err)
}

// complete records the outcome of a task and starts the next ones.
func (q *Queue) complete(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.RequiresGMF())

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Debug("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Error(err))
	}

	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// allTasksDoneLocked returns true if all tasks are in a terminal state.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}
	return true
}

// closeDoneLocked closes the done channel once.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// notifyUpdateLocked calls the update callback with a snapshot of all tasks.
// Must be called with lock held.
func (q *Queue) notifyUpdateLocked() {
	if q.onUpdate == nil {
		return
	}
	q.onUpdate(q.snapshotsLocked())
}

func (q *Queue) snapshotsLocked() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// GetTasks returns a snapshot of all tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotsLocked()
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns the error of the first failed task in enqueue order, or ctx.Err()
// if the context was cancelled first. In that case the queue is cancelled.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel stops accepting tasks, cancels pending ones and signals running
// tasks through their context.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
}

// FailFast cancels the queue as soon as one task fails.
func (q *Queue) FailFast() {
	q.SetOnUpdate(func(snapshots []TaskSnapshot) {
		for _, s := range snapshots {
			if s.Status == TaskStatusFailed {
				// Called under the lock: cancel the tasks without Cancel().
				q.cancelLocked()
				return
			}
		}
	})
}

func (q *Queue) cancelLocked() {
	if q.cancelled {
		return
	}
	q.cancelled = true
	q.cancel()
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}
}

// Close waits for the running goroutines and releases the queue context.
func (q *Queue) Close() {
	q.wg.Wait()
	q.cancel()
}

// IsComplete returns true if all tasks have completed (success or failure).
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allTasksDoneLocked()
}

// HasFailures returns true if any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return true
		}
	}
	return false
}

// TaskCount returns the total number of tasks.
func (q *Queue) TaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// CompletedCount returns the number of completed tasks.
func (q *Queue) CompletedCount() int {
	return q.Progress().Completed
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		w := ts.Task.Weight()
		p.TotalWeight += w
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
			p.DoneWeight += w
		case TaskStatusFailed:
			p.Failed++
			p.DoneWeight += w
		case TaskStatusCancelled:
			p.Cancelled++
			p.DoneWeight += w
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	TotalWeight float64 `json:"total_weight"`
	DoneWeight  float64 `json:"done_weight"`
}

// Percentage returns the completion percentage (0-100), by task weight when
// the tasks carry one.
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	if p.TotalWeight > 0 {
		return int(p.DoneWeight * 100 / p.TotalWeight)
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
