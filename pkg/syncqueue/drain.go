package syncqueue

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/pkg/connectivity"

	"github.com/cenkalti/backoff/v5"
)

// ProcessPending drains every eligible operation once. A call made while a
// drain is running schedules one more pass and waits for it.
func (q *Queue) ProcessPending(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.rerun = true
		done := q.drainDone
		q.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.draining = true
	q.drainDone = make(chan struct{})
	q.mu.Unlock()

	for {
		q.pass(ctx)

		q.mu.Lock()
		if !q.rerun || ctx.Err() != nil {
			q.draining = false
			close(q.drainDone)
			q.mu.Unlock()
			return ctx.Err()
		}
		q.rerun = false
		q.mu.Unlock()
	}
}

func (q *Queue) pass(ctx context.Context) {
	attempted := make(map[string]bool)
	for ctx.Err() == nil && q.online() {
		op := q.next(attempted)
		if op == nil {
			return
		}
		attempted[op.Id] = true

		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				q.requeue(op)
				return
			}
		}
		q.attempt(ctx, op)
	}
}

// next pops the best eligible operation not yet attempted in this pass and
// marks it processing.
func (q *Queue) next(attempted map[string]bool) *entity.SyncOperation {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*entity.SyncOperation
	var found *entity.SyncOperation
	for q.items.Len() > 0 {
		op := heap.Pop(&q.items).(*entity.SyncOperation)
		if attempted[op.Id] || op.NextAttemptAt.After(now) {
			skipped = append(skipped, op)
			continue
		}
		found = op
		break
	}
	for _, op := range skipped {
		heap.Push(&q.items, op)
	}
	if found != nil {
		found.Status = entity.OperationProcessing
	}
	return found
}

func (q *Queue) requeue(op *entity.SyncOperation) {
	q.mu.Lock()
	op.Status = entity.OperationPending
	heap.Push(&q.items, op)
	q.mu.Unlock()
}

func (q *Queue) attempt(ctx context.Context, op *entity.SyncOperation) {
	q.mu.Lock()
	snapshot := *op
	q.mu.Unlock()

	if err := q.journal.Update(ctx, &snapshot); err != nil {
		q.opts.Logger.Warn(module, "Failed to journal processing state", map[string]interface{}{
			"operation_id": op.Id,
			"error":        err.Error(),
		})
	}

	err := q.execute(ctx, &snapshot)

	if err == nil {
		q.complete(ctx, op)
		return
	}

	q.mu.Lock()
	op.LastError = err.Error()
	retry := !apperror.IsTerminal(err) && op.RetryCount < op.MaxRetries
	if retry {
		op.RetryCount++
		op.Status = entity.OperationPending
		op.NextAttemptAt = q.now().Add(q.backoffFor(op.RetryCount))
		heap.Push(&q.items, op)
	} else {
		op.Status = entity.OperationFailed
		done := q.now()
		op.CompletedAt = &done
		delete(q.byID, op.Id)
	}
	updated := *op
	depth := len(q.byID)
	q.mu.Unlock()

	q.persist(ctx, &updated)
	q.opts.Metrics.SetQueueDepth(depth)

	if retry {
		q.opts.Metrics.ObserveOperation(string(op.Type), "retry")
		q.opts.Logger.Warn(module, "Operation failed, will retry", map[string]interface{}{
			"operation_id":    updated.Id,
			"retry_count":     updated.RetryCount,
			"next_attempt_at": updated.NextAttemptAt,
			"error":           updated.LastError,
		})
		return
	}

	q.failures.Add(1)
	q.opts.Metrics.ObserveOperation(string(updated.Type), "failed")
	q.opts.Logger.Error(module, "Operation failed permanently", map[string]interface{}{
		"operation_id": updated.Id,
		"type":         updated.Type,
		"retry_count":  updated.RetryCount,
		"error":        updated.LastError,
	})
	if q.opts.Audit != nil {
		q.opts.Audit.PublishOperationFailed(ctx, updated.Id, string(updated.Type), updated.Target, updated.LastError, updated.RetryCount)
	}
	q.notify(updated)
}

// execute bounds the executor call by the network timeout even if the
// executor ignores its context.
func (q *Queue) execute(ctx context.Context, op *entity.SyncOperation) error {
	callCtx, cancel := context.WithTimeout(ctx, q.opts.NetworkTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- q.exec.Execute(callCtx, op)
	}()

	select {
	case err := <-result:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && apperror.KindOf(err) == "" {
			return apperror.Network(err, "operation %s timed out", op.Id)
		}
		return err
	case <-callCtx.Done():
		return apperror.Network(callCtx.Err(), "operation %s timed out", op.Id)
	}
}

func (q *Queue) complete(ctx context.Context, op *entity.SyncOperation) {
	q.mu.Lock()
	done := q.now()
	op.Status = entity.OperationCompleted
	op.CompletedAt = &done
	op.LastError = ""
	delete(q.byID, op.Id)
	updated := *op
	depth := len(q.byID)
	q.mu.Unlock()

	q.persist(ctx, &updated)
	q.opts.Metrics.SetQueueDepth(depth)
	q.opts.Metrics.ObserveOperation(string(updated.Type), "completed")

	if q.opts.Publisher != nil {
		msg, err := newCompletionMessage(&updated)
		if err == nil {
			err = q.opts.Publisher.Publish(CompletedTopic, msg)
		}
		if err != nil {
			q.opts.Logger.Warn(module, "Failed to publish completion", map[string]interface{}{
				"operation_id": updated.Id,
				"error":        err.Error(),
			})
		}
	}
	q.notify(updated)
}

func (q *Queue) persist(ctx context.Context, op *entity.SyncOperation) {
	if err := q.journal.Update(ctx, op); err != nil {
		q.opts.Logger.Error(module, "Failed to journal operation state", map[string]interface{}{
			"operation_id": op.Id,
			"status":       op.Status,
			"error":        err.Error(),
		})
	}
}

func (q *Queue) notify(op entity.SyncOperation) {
	q.mu.Lock()
	fns := make([]func(entity.SyncOperation), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn(op)
	}
}

// backoffFor returns the delay before retry number n (1-based).
func (q *Queue) backoffFor(n int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.opts.BackoffInitial,
		RandomizationFactor: q.opts.BackoffJitter,
		Multiplier:          2,
		MaxInterval:         q.opts.BackoffMax,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run drains on the interval and whenever connectivity comes back, until ctx
// is cancelled.
func (q *Queue) Run(ctx context.Context) {
	stop := q.opts.Scheduler.Every(q.opts.DrainInterval, func() {
		if q.online() {
			_ = q.ProcessPending(ctx)
		}
	})
	defer stop()

	if q.opts.Monitor != nil {
		unsubscribe := q.opts.Monitor.Subscribe(func(evt connectivity.Event) {
			if evt.Kind == connectivity.EventOnline {
				q.opts.Logger.Info(module, "Connectivity restored, draining queue", map[string]interface{}{
					"pending": q.Pending(),
				})
				q.kick()
			}
		})
		defer unsubscribe()
	}

	<-ctx.Done()
}
