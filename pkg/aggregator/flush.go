package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"

	"github.com/google/uuid"
)

type pendingOp struct {
	opType   entity.OperationType
	target   string
	payload  interface{}
	priority entity.Priority
	// restore marks the records of this operation dirty again.
	restore func(b *buffer)
}

func (a *Aggregator) timerFlush(sessionID uuid.UUID) {
	if err := a.flush(context.Background(), sessionID, false); err != nil {
		a.opts.Logger.Warn(module, "Scheduled flush failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// flush hands every dirty record of a session to the queue. Only one flush
// per session runs at a time; updates that arrive meanwhile stay buffered
// and are flushed by a follow-up pass. A forced flush waits for the running
// one and then flushes at critical priority.
func (a *Aggregator) flush(ctx context.Context, sessionID uuid.UUID, forced bool) error {
	for {
		a.mu.Lock()
		b, ok := a.sessions[sessionID]
		if !ok {
			a.mu.Unlock()
			return nil
		}
		if b.flushing {
			b.followUp = true
			if forced {
				b.forcedFollowUp = true
			}
			done := b.flushDone
			a.mu.Unlock()
			if !forced {
				return nil
			}
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.stopTimers()
		if b.pending() == 0 {
			a.mu.Unlock()
			return nil
		}
		ops := a.collect(sessionID, b, forced)
		b.flushing = true
		b.flushDone = make(chan struct{})
		userID := b.userID
		revision := b.revision
		a.mu.Unlock()

		a.emit(StatusEvent{SessionId: sessionID, UserId: userID, Status: StatusSaving, PendingUpdates: len(ops), Revision: revision})
		sent, err := a.enqueueAll(ctx, sessionID, ops)

		a.mu.Lock()
		again, againForced := false, false
		cur, ok := a.sessions[sessionID]
		if ok {
			if err != nil && cur == b {
				for _, op := range ops[sent:] {
					op.restore(b)
				}
			}
			cur.flushing = false
			close(cur.flushDone)
			again = cur.followUp && cur.pending() > 0
			againForced = cur.forcedFollowUp
			cur.followUp, cur.forcedFollowUp = false, false
			if !again && cur.pending() > 0 {
				a.armTimers(sessionID, cur)
			}
		} else {
			close(b.flushDone)
		}
		remaining := 0
		if ok {
			remaining = cur.pending()
		}
		a.mu.Unlock()

		if err != nil {
			a.opts.Logger.Error(module, "Failed to enqueue session changes", map[string]interface{}{
				"session_id": sessionID,
				"enqueued":   sent,
				"total":      len(ops),
				"error":      err.Error(),
			})
			a.emit(StatusEvent{SessionId: sessionID, UserId: userID, Status: StatusError, PendingUpdates: remaining, Error: err.Error()})
			return err
		}
		a.emit(StatusEvent{SessionId: sessionID, UserId: userID, Status: StatusSaved, PendingUpdates: remaining, Revision: revision})

		if !again {
			return nil
		}
		forced = againForced
	}
}

func (a *Aggregator) enqueueAll(ctx context.Context, sessionID uuid.UUID, ops []pendingOp) (int, error) {
	for i, op := range ops {
		id := sessionID
		if _, err := a.queue.Enqueue(ctx, op.opType, op.target, op.payload, op.priority, &id); err != nil {
			return i, fmt.Errorf("enqueue %s: %w", op.opType, err)
		}
	}
	return len(ops), nil
}

// collect requires a.mu. It turns the dirty records into operations and
// clears the dirty marks.
func (a *Aggregator) collect(sessionID uuid.UUID, b *buffer, forced bool) []pendingOp {
	priority := func(p entity.Priority) entity.Priority {
		if forced {
			return entity.PriorityCritical
		}
		return p
	}
	var ops []pendingOp

	if len(b.dirtyMessages) > 0 {
		ids := b.dirtyMessages
		var msgs []entity.Message
		for _, m := range b.messages {
			if ids[m.Id] {
				msgs = append(msgs, m)
			}
		}
		b.dirtyMessages = make(map[uuid.UUID]bool)
		ops = append(ops, pendingOp{
			opType: entity.OperationChatMessage,
			target: "chat:" + sessionID.String(),
			payload: entity.ChatPayload{
				UserId: b.userID, BaseRevision: b.revision, Writer: a.opts.Writer, Messages: msgs,
			},
			priority: priority(entity.PriorityHigh),
			restore: func(b *buffer) {
				for id := range ids {
					b.dirtyMessages[id] = true
				}
			},
		})
	}

	if b.dirtyViewer {
		v := b.ensureViewer(sessionID)
		v.LastSaved = a.opts.Scheduler.Now()
		state := *v
		state.Interactions = b.interactions.Slice()
		b.dirtyViewer = false
		ops = append(ops, pendingOp{
			opType: entity.OperationViewerState,
			target: "viewer:" + sessionID.String(),
			payload: entity.ViewerPayload{
				UserId: b.userID, BaseRevision: b.revision, Writer: a.opts.Writer, State: state,
			},
			priority: priority(entity.PriorityMedium),
			restore:  func(b *buffer) { b.dirtyViewer = true },
		})
	}

	if len(b.dirtyWorkflows) > 0 {
		ids := make([]string, 0, len(b.dirtyWorkflows))
		for id := range b.dirtyWorkflows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.dirtyWorkflows = make(map[string]bool)
		for _, id := range ids {
			wc, ok := b.workflows[id]
			if !ok {
				continue
			}
			workflowID := id
			ops = append(ops, pendingOp{
				opType: entity.OperationWorkflowUpdate,
				target: "workflow:" + workflowID,
				payload: entity.WorkflowPayload{
					UserId: b.userID, BaseRevision: b.revision, Writer: a.opts.Writer, Context: wc.Clone(),
				},
				priority: priority(entity.PriorityMedium),
				restore:  func(b *buffer) { b.dirtyWorkflows[workflowID] = true },
			})
		}
	}

	if b.meta != nil {
		meta := *b.meta
		meta.UserId = b.userID
		meta.BaseRevision = b.revision
		meta.Writer = a.opts.Writer
		b.meta = nil
		ops = append(ops, pendingOp{
			opType:   entity.OperationSessionMetadata,
			target:   "session:" + sessionID.String(),
			payload:  meta,
			priority: priority(entity.PriorityLow),
			restore: func(b *buffer) {
				if b.meta == nil {
					restored := meta
					b.meta = &restored
					return
				}
				if b.meta.Title == nil {
					b.meta.Title = meta.Title
				}
				if b.meta.Description == nil {
					b.meta.Description = meta.Description
				}
				if b.meta.Tags == nil {
					b.meta.Tags = meta.Tags
				}
				for k, v := range meta.Settings {
					if b.meta.Settings == nil {
						b.meta.Settings = make(map[string]string)
					}
					if _, newer := b.meta.Settings[k]; !newer {
						b.meta.Settings[k] = v
					}
				}
			},
		})
	}

	return ops
}

// ForceSave flushes one session, or every open session when sessionID is
// nil, at critical priority and then drains the queue.
func (a *Aggregator) ForceSave(ctx context.Context, sessionID *uuid.UUID) error {
	var ids []uuid.UUID
	if sessionID != nil {
		a.mu.Lock()
		_, ok := a.sessions[*sessionID]
		a.mu.Unlock()
		if !ok {
			return apperror.NotFound("session %s is not open", *sessionID)
		}
		ids = []uuid.UUID{*sessionID}
	} else {
		ids = a.Sessions()
	}

	var errs []error
	for _, id := range ids {
		if err := a.flush(ctx, id, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.queue.ProcessPending(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FlushAll hands everything buffered to the queue at normal priority.
func (a *Aggregator) FlushAll(ctx context.Context) error {
	var errs []error
	for _, id := range a.Sessions() {
		if err := a.flush(ctx, id, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnApplied records a revision committed by the store. A stale apply means
// another writer got in between, which is reported but not undone.
func (a *Aggregator) OnApplied(sessionID uuid.UUID, revision int64, stale bool) {
	a.mu.Lock()
	b, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return
	}
	if revision > b.revision {
		b.revision = revision
		b.session.Revision = revision
	}
	userID := b.userID
	a.mu.Unlock()

	if stale {
		a.opts.Logger.Warn(module, "Session changed by another writer", map[string]interface{}{
			"session_id": sessionID,
			"revision":   revision,
		})
		a.emit(StatusEvent{
			SessionId: sessionID,
			UserId:    userID,
			Status:    StatusStale,
			Revision:  revision,
			Error:     "session was modified elsewhere; the latest save overwrote those changes",
		})
	}
}

// OnOperationSettled reports operations that failed for good as save errors.
func (a *Aggregator) OnOperationSettled(op entity.SyncOperation) {
	if op.Status != entity.OperationFailed || op.SessionId == nil {
		return
	}
	a.mu.Lock()
	b, ok := a.sessions[*op.SessionId]
	var userID uuid.UUID
	if ok {
		userID = b.userID
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	a.emit(StatusEvent{SessionId: *op.SessionId, UserId: userID, Status: StatusError, Error: op.LastError})
}

// Close flushes what is buffered and stops every timer.
func (a *Aggregator) Close(ctx context.Context) error {
	err := a.FlushAll(ctx)
	a.mu.Lock()
	for _, b := range a.sessions {
		b.stopTimers()
	}
	a.mu.Unlock()
	return err
}
