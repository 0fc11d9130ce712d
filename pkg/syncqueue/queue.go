// Package syncqueue is the durable offline operation queue. Operations are
// journaled locally before they are accepted, drained in priority order
// while the remote store is reachable, and retried with exponential backoff
// up to a per-priority bound.
package syncqueue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"
	"bioai-workspace-be/internal/repository/contract"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/connectivity"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

const module = "SYNC_QUEUE"

type Options struct {
	NetworkTimeout time.Duration
	DrainInterval  time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64
	// DispatchRate caps executor calls per second; 0 disables the limiter.
	DispatchRate float64

	Scheduler *scheduler.Scheduler
	Monitor   *connectivity.Monitor
	Publisher message.Publisher
	Audit     audit.Publisher
	Metrics   *metrics.Metrics
	Logger    logger.ILogger

	// Dispatch runs immediate drains. Defaults to a new goroutine.
	Dispatch func(func())
}

type Queue struct {
	journal contract.SyncOperationRepository
	exec    Executor
	opts    Options
	limiter *rate.Limiter

	mu        sync.Mutex
	items     opHeap
	byID      map[string]*entity.SyncOperation
	draining  bool
	rerun     bool
	drainDone chan struct{}
	listeners map[int]func(entity.SyncOperation)
	nextSub   int

	failures atomic.Int64
}

func New(journal contract.SyncOperationRepository, exec Executor, opts Options) *Queue {
	if opts.NetworkTimeout <= 0 {
		opts.NetworkTimeout = 30 * time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 10 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { go f() }
	}

	q := &Queue{
		journal:   journal,
		exec:      exec,
		opts:      opts,
		byID:      make(map[string]*entity.SyncOperation),
		listeners: make(map[int]func(entity.SyncOperation)),
	}
	if opts.DispatchRate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(opts.DispatchRate), 1)
	}
	return q
}

func (q *Queue) now() time.Time {
	return q.opts.Scheduler.Now()
}

func (q *Queue) online() bool {
	return q.opts.Monitor == nil || q.opts.Monitor.Online()
}

// Enqueue journals a new pending operation and returns its id. High and
// critical operations trigger a drain right away when online.
func (q *Queue) Enqueue(ctx context.Context, opType entity.OperationType, target string, payload interface{}, priority entity.Priority, sessionID *uuid.UUID) (string, error) {
	if !opType.Valid() {
		return "", fmt.Errorf("unknown operation type %q", opType)
	}
	if priority < entity.PriorityLow || priority > entity.PriorityCritical {
		return "", fmt.Errorf("unknown priority %d", priority)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal operation payload: %w", err)
	}

	now := q.now()
	op := &entity.SyncOperation{
		Id:            ulid.Make().String(),
		Type:          opType,
		Target:        target,
		SessionId:     sessionID,
		Payload:       raw,
		Timestamp:     now,
		Priority:      priority,
		MaxRetries:    entity.MaxRetriesFor(priority),
		Status:        entity.OperationPending,
		NextAttemptAt: now,
	}

	if err := q.journal.Create(ctx, op); err != nil {
		return "", fmt.Errorf("journal operation: %w", err)
	}

	q.mu.Lock()
	q.push(op)
	depth := len(q.byID)
	q.mu.Unlock()
	q.opts.Metrics.SetQueueDepth(depth)

	q.opts.Logger.Debug(module, "Operation enqueued", map[string]interface{}{
		"operation_id": op.Id,
		"type":         op.Type,
		"priority":     op.Priority.String(),
	})

	if priority >= entity.PriorityHigh && q.online() {
		q.kick()
	}
	return op.Id, nil
}

// push requires q.mu.
func (q *Queue) push(op *entity.SyncOperation) {
	heap.Push(&q.items, op)
	q.byID[op.Id] = op
}

func (q *Queue) kick() {
	q.opts.Dispatch(func() {
		_ = q.ProcessPending(context.Background())
	})
}

// Cancel removes an operation that has not started. It reports false for
// unknown, in-flight and settled operations.
func (q *Queue) Cancel(ctx context.Context, operationID string) bool {
	q.mu.Lock()
	op, ok := q.byID[operationID]
	if !ok || op.Status != entity.OperationPending {
		q.mu.Unlock()
		return false
	}
	if i := q.items.indexOf(operationID); i >= 0 {
		heap.Remove(&q.items, i)
	}
	delete(q.byID, operationID)
	depth := len(q.byID)
	q.mu.Unlock()
	q.opts.Metrics.SetQueueDepth(depth)

	if err := q.journal.Delete(ctx, operationID); err != nil {
		q.opts.Logger.Warn(module, "Failed to drop cancelled operation from journal", map[string]interface{}{
			"operation_id": operationID,
			"error":        err.Error(),
		})
	}
	return true
}

// Pending is the size of the active queue, in-flight operations included.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

// Get returns a copy of an active operation.
func (q *Queue) Get(operationID string) (entity.SyncOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.byID[operationID]
	if !ok {
		return entity.SyncOperation{}, false
	}
	return *op, true
}

// OnSettled registers fn for operations that completed or failed for good.
func (q *Queue) OnSettled(fn func(entity.SyncOperation)) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.listeners[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Load rebuilds the active queue from the journal. Rows left processing by a
// crash go back to pending.
func (q *Queue) Load(ctx context.Context) (int, error) {
	ops, err := q.journal.FindAll(ctx, specification.ByStatuses{Statuses: []string{
		string(entity.OperationPending),
		string(entity.OperationProcessing),
	}})
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	loaded := 0
	for _, op := range ops {
		if op.Status == entity.OperationProcessing {
			op.Status = entity.OperationPending
			if err := q.journal.Update(ctx, op); err != nil {
				return loaded, fmt.Errorf("recover operation %s: %w", op.Id, err)
			}
		}
		q.mu.Lock()
		if _, exists := q.byID[op.Id]; !exists {
			q.push(op)
			loaded++
		}
		q.mu.Unlock()
	}

	q.opts.Metrics.SetQueueDepth(q.Pending())
	q.opts.Logger.Info(module, "Journal loaded", map[string]interface{}{"operations": loaded})
	return loaded, nil
}

// RetryFailed resets every failed operation and puts it back on the queue.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	failed, err := q.journal.FindAll(ctx, specification.ByStatuses{Statuses: []string{string(entity.OperationFailed)}})
	if err != nil {
		return 0, fmt.Errorf("list failed operations: %w", err)
	}

	now := q.now()
	count := 0
	for _, op := range failed {
		op.Status = entity.OperationPending
		op.RetryCount = 0
		op.MaxRetries = entity.MaxRetriesFor(op.Priority)
		op.LastError = ""
		op.CompletedAt = nil
		op.NextAttemptAt = now
		if err := q.journal.Update(ctx, op); err != nil {
			return count, fmt.Errorf("reset operation %s: %w", op.Id, err)
		}
		q.mu.Lock()
		q.push(op)
		q.mu.Unlock()
		count++
	}

	if count > 0 {
		q.opts.Metrics.SetQueueDepth(q.Pending())
		q.opts.Logger.Info(module, "Failed operations requeued", map[string]interface{}{"count": count})
		if q.online() {
			q.kick()
		}
	}
	return count, nil
}

// PurgeTerminal deletes completed and failed journal rows settled more than
// olderThan ago.
func (q *Queue) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.journal.DeleteTerminalBefore(ctx, q.now().Add(-olderThan))
}

// GetStatistics combines the active queue with the journal.
func (q *Queue) GetStatistics(ctx context.Context) (entity.SyncStatistics, error) {
	stats := entity.SyncStatistics{FailureCounter: q.failures.Load()}

	all, err := q.journal.FindAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("read journal: %w", err)
	}

	retries := 0
	for _, op := range all {
		retries += op.RetryCount
		switch op.Status {
		case entity.OperationCompleted:
			stats.Completed++
		case entity.OperationFailed:
			stats.Failed++
		}
	}
	stats.Total = len(all)
	if stats.Total > 0 {
		stats.AvgRetryCount = float64(retries) / float64(stats.Total)
	}

	now := q.now()
	q.mu.Lock()
	for _, op := range q.byID {
		switch op.Status {
		case entity.OperationPending:
			stats.Pending++
			if age := now.Sub(op.Timestamp); age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		case entity.OperationProcessing:
			stats.Processing++
		}
	}
	q.mu.Unlock()

	return stats, nil
}
