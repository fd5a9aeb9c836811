package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned for tasks enqueued after Close.
var ErrClosed = errors.New("command queue is closed")

// DefaultLane is the lane used when the caller does not name one.
const DefaultLane = "main"

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (any, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Event is emitted synchronously when a task is enqueued or completes.
type Event struct {
	Type     string // "enqueued" or "completed"
	Lane     string
	TaskID   string
	Duration time.Duration
	Err      error
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	handlers []EventHandler
	eventMu  sync.RWMutex
}

// New creates a CommandQueue. Lanes are created on first use with a
// concurrency of one.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// lane returns the lane state, creating it if needed.
func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, ok := cq.lanes[name]
	cq.mu.RUnlock()
	if ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok = cq.lanes[name]; !ok {
		ls = &laneState{concurrency: 1}
		cq.lanes[name] = ls
		log.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a task to the specified lane
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (any, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to lane and blocks until it completes or
// ctx is done.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if lane == "" {
		lane = DefaultLane
	}

	ctx, span := tracing.StartSpan(ctx, "agentkit.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().Str("task_id", taskID).Int("queue_size", queueSize).Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)
	cq.emit(Event{Type: "enqueued", Lane: lane, TaskID: taskID})

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	select {
	case result := <-record.result:
		if result.err != nil {
			tracing.Fail(span, result.err)
		}
		return result.value, result.err
	case <-ctx.Done():
		return nil, tracing.Fail(span, ctx.Err())
	}
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "agentkit.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		tracing.Fail(span, err)
		logger.Error().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)
	cq.emit(Event{Type: "completed", Lane: lane, TaskID: record.id, Duration: duration, Err: err})

	go cq.processLane(lane)
}

// startWarnTimer warns when a task is still queued after WarnAfter.
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane)
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("task_id", record.id).
				Dur("wait", wait).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// LaneStats is a snapshot of one lane.
type LaneStats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]LaneStats {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for name, ls := range cq.lanes {
		ls.mu.Lock()
		stats[name] = LaneStats{Queued: len(ls.queue), Running: ls.running, Concurrency: ls.concurrency}
		ls.mu.Unlock()
	}
	return stats
}

// SetConcurrency updates the concurrency limit for a lane
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane)
	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	log.Debug().Str("lane", lane).Int("old_max", oldMax).Int("new_max", concurrency).Msg("Lane concurrency updated")

	if concurrency > oldMax {
		go cq.processLane(lane)
	}
}

// WaitForActive waits until no lane has queued or running tasks.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		busy := false
		for _, s := range cq.GetStats() {
			if s.Queued > 0 || s.Running > 0 {
				busy = true
				break
			}
		}
		if !busy {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks and waits for them to return. Tasks enqueued
// afterwards fail with ErrClosed.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers a handler for queue events.
func (cq *CommandQueue) On(handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()
	cq.handlers = append(cq.handlers, handler)
}

func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.handlers
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
