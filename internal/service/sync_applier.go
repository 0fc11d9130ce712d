package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

const applierModule = "SYNC_APPLIER"

// ApplyOutcome describes the effect of one applied operation on its session.
type ApplyOutcome struct {
	OperationId string
	SessionId   uuid.UUID
	UserId      uuid.UUID
	Writer      string
	Revision    int64
	Changed     bool
	// Stale is set when another writer committed a newer revision than the
	// one this operation was based on. The write is still applied.
	Stale bool
}

type ISyncApplier interface {
	Execute(ctx context.Context, op *entity.SyncOperation) error
	OnApplied(fn func(ApplyOutcome)) func()
}

type syncApplier struct {
	uowFactory unitofwork.RepositoryFactory
	logger     logger.ILogger
	now        func() time.Time

	mu      sync.Mutex
	hooks   map[int]func(ApplyOutcome)
	nextKey int
}

func NewSyncApplier(uowFactory unitofwork.RepositoryFactory, log logger.ILogger) ISyncApplier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &syncApplier{
		uowFactory: uowFactory,
		logger:     log,
		now:        time.Now,
		hooks:      make(map[int]func(ApplyOutcome)),
	}
}

func (a *syncApplier) OnApplied(fn func(ApplyOutcome)) func() {
	a.mu.Lock()
	key := a.nextKey
	a.nextKey++
	a.hooks[key] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.hooks, key)
		a.mu.Unlock()
	}
}

// Execute applies an operation inside one transaction. Applying the same
// operation twice leaves the store as applying it once: records are upserted
// by id and the revision only moves when something changed.
func (a *syncApplier) Execute(ctx context.Context, op *entity.SyncOperation) error {
	if op.SessionId == nil {
		return apperror.Validation("operation %s has no session", op.Id)
	}

	var header struct {
		UserId       uuid.UUID `json:"user_id"`
		BaseRevision int64     `json:"base_revision"`
		Writer       string    `json:"writer"`
	}
	if err := json.Unmarshal(op.Payload, &header); err != nil {
		return apperror.Validation("operation %s payload is not valid JSON", op.Id)
	}

	uow := a.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = uow.Rollback()
			panic(r)
		}
	}()

	outcome, err := a.apply(ctx, uow, op, header.UserId, header.BaseRevision, header.Writer)
	if err != nil {
		_ = uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}

	if outcome.Stale {
		a.logger.Warn(applierModule, "Concurrent writer detected, last write wins", map[string]interface{}{
			"operation_id": op.Id,
			"session_id":   outcome.SessionId,
			"writer":       outcome.Writer,
			"revision":     outcome.Revision,
		})
	}
	a.notify(outcome)
	return nil
}

func (a *syncApplier) apply(ctx context.Context, uow unitofwork.UnitOfWork, op *entity.SyncOperation, userId uuid.UUID, base int64, writer string) (ApplyOutcome, error) {
	sessionId := *op.SessionId
	outcome := ApplyOutcome{OperationId: op.Id, SessionId: sessionId, UserId: userId, Writer: writer}

	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return outcome, err
	}
	if session == nil {
		return outcome, apperror.NotFound("session %s not found", sessionId)
	}
	if session.UserId != userId {
		return outcome, apperror.Unauthorized("session %s is not owned by user %s", sessionId, userId)
	}

	var changed bool
	switch op.Type {
	case entity.OperationChatMessage:
		var p entity.ChatPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return outcome, apperror.Validation("invalid chat payload: %v", err)
		}
		changed, err = a.applyChat(ctx, uow, session, p.Messages)
	case entity.OperationViewerState:
		var p entity.ViewerPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return outcome, apperror.Validation("invalid viewer payload: %v", err)
		}
		changed, err = a.applyViewer(ctx, uow, session, &p.State)
	case entity.OperationWorkflowUpdate:
		var p entity.WorkflowPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return outcome, apperror.Validation("invalid workflow payload: %v", err)
		}
		changed, err = a.applyWorkflow(ctx, uow, session, p.Context)
	case entity.OperationSessionMetadata:
		var p entity.MetadataPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return outcome, apperror.Validation("invalid metadata payload: %v", err)
		}
		changed, err = a.applyMetadata(ctx, uow, session, &p)
	default:
		return outcome, apperror.Validation("unknown operation type %q", op.Type)
	}
	if err != nil {
		return outcome, err
	}

	outcome.Changed = changed
	outcome.Revision = session.Revision
	if !changed {
		return outcome, nil
	}

	outcome.Stale = session.LastWriter != "" && writer != "" &&
		session.LastWriter != writer && session.Revision > base

	revision, err := uow.SessionRepository().BumpRevision(ctx, sessionId, writer, a.now())
	if err != nil {
		return outcome, err
	}
	outcome.Revision = revision
	return outcome, nil
}

func (a *syncApplier) applyChat(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session, messages []entity.Message) (bool, error) {
	repo := uow.MessageRepository()
	changed := false

	for i := range messages {
		msg := messages[i]
		if msg.Id == uuid.Nil {
			return false, apperror.Validation("message without id in session %s", session.Id)
		}
		msg.SessionId = session.Id
		if msg.Status == "" {
			msg.Status = entity.MessageStatusSent
		}

		existing, err := repo.FindOne(ctx, specification.ByID{ID: msg.Id})
		if err != nil {
			return false, err
		}
		if existing == nil {
			if err := repo.Create(ctx, &msg); err != nil {
				return false, fmt.Errorf("insert message %s: %w", msg.Id, err)
			}
			changed = true
			continue
		}
		if existing.SessionId != session.Id {
			return false, apperror.Unauthorized("message %s belongs to another session", msg.Id)
		}

		if existing.Status == entity.MessageStatusSent && existing.Content != msg.Content {
			a.logger.Warn(applierModule, "Ignoring content change of a sent message", map[string]interface{}{
				"message_id": msg.Id,
				"session_id": session.Id,
			})
			msg.Content = existing.Content
		}
		if sameMessage(existing, &msg) {
			continue
		}
		if err := repo.Update(ctx, &msg); err != nil {
			return false, fmt.Errorf("update message %s: %w", msg.Id, err)
		}
		changed = true
	}

	if !changed {
		return false, nil
	}

	count, err := repo.Count(ctx, specification.BySessionID{SessionID: session.Id})
	if err != nil {
		return false, err
	}
	if int(count) != session.MessageCount {
		if err := uow.SessionRepository().SetMessageCount(ctx, session.Id, int(count)); err != nil {
			return false, err
		}
		session.MessageCount = int(count)
	}
	return true, nil
}

func (a *syncApplier) applyViewer(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session, state *entity.ViewerState) (bool, error) {
	repo := uow.ViewerStateRepository()
	state.SessionId = session.Id
	if n := len(state.Interactions); n > entity.MaxInteractions {
		state.Interactions = state.Interactions[n-entity.MaxInteractions:]
	}
	if state.LastSaved.IsZero() {
		state.LastSaved = a.now()
	}

	existing, err := repo.FindOne(ctx,
		specification.BySessionID{SessionID: session.Id},
		specification.OrderBy{Field: "last_saved", Desc: true},
	)
	if err != nil {
		return false, err
	}
	if existing == nil {
		if state.Id == uuid.Nil {
			state.Id = uuid.New()
		}
		if err := repo.Create(ctx, state); err != nil {
			return false, fmt.Errorf("insert viewer state: %w", err)
		}
		return true, nil
	}

	state.Id = existing.Id
	if sameViewerState(existing, state) {
		return false, nil
	}
	if err := repo.Update(ctx, state); err != nil {
		return false, fmt.Errorf("update viewer state: %w", err)
	}
	return true, nil
}

func (a *syncApplier) applyWorkflow(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session, wc *entity.WorkflowContext) (bool, error) {
	if wc == nil || wc.WorkflowId == "" {
		return false, apperror.Validation("workflow update without a workflow id")
	}
	if wc.UserId != session.UserId {
		return false, apperror.Unauthorized("workflow %s is not owned by the session owner", wc.WorkflowId)
	}
	wc.SessionId = session.Id
	wc.SchemaVersion = entity.WorkflowSchemaVersion
	wc.Normalize()

	repo := uow.WorkflowContextRepository()
	existing, err := repo.FindOne(ctx, specification.ByKey{Column: "workflow_id", Key: wc.WorkflowId})
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.UserId != wc.UserId {
			return false, apperror.Unauthorized("workflow %s is owned by another user", wc.WorkflowId)
		}
		if sameWorkflow(existing, wc) {
			return false, nil
		}
	}

	if err := repo.Save(ctx, wc); err != nil {
		return false, fmt.Errorf("save workflow context %s: %w", wc.WorkflowId, err)
	}
	return true, nil
}

func (a *syncApplier) applyMetadata(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session, p *entity.MetadataPayload) (bool, error) {
	changed := false

	if p.Title != nil && *p.Title != session.Title {
		session.Title = *p.Title
		changed = true
	}
	if p.Description != nil {
		current := ""
		if session.Description != nil {
			current = *session.Description
		}
		if *p.Description != current {
			if *p.Description == "" {
				session.Description = nil
			} else {
				desc := *p.Description
				session.Description = &desc
			}
			changed = true
		}
	}
	if p.Tags != nil && !equalStrings(session.Tags, p.Tags) {
		session.Tags = append([]string(nil), p.Tags...)
		changed = true
	}
	if len(p.Settings) > 0 {
		if session.Settings == nil {
			session.Settings = make(map[string]string, len(p.Settings))
		}
		for k, v := range p.Settings {
			if session.Settings[k] != v {
				session.Settings[k] = v
				changed = true
			}
		}
	}

	if !changed {
		return false, nil
	}
	if err := uow.SessionRepository().UpdateMetadata(ctx, session); err != nil {
		return false, fmt.Errorf("update session metadata: %w", err)
	}
	return true, nil
}

func (a *syncApplier) notify(outcome ApplyOutcome) {
	a.mu.Lock()
	hooks := make([]func(ApplyOutcome), 0, len(a.hooks))
	for _, fn := range a.hooks {
		hooks = append(hooks, fn)
	}
	a.mu.Unlock()
	for _, fn := range hooks {
		fn(outcome)
	}
}

// storeTime matches the precision and zone a timestamp column returns.
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func sameMessage(a, b *entity.Message) bool {
	if a.Role != b.Role || a.Content != b.Content || a.Status != b.Status {
		return false
	}
	if !storeTime(a.Timestamp).Equal(storeTime(b.Timestamp)) {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if bv, ok := b.Metadata[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func sameViewerState(a, b *entity.ViewerState) bool {
	if !storeTime(a.LastSaved).Equal(storeTime(b.LastSaved)) {
		return false
	}
	left, right := *a, *b
	left.LastSaved, right.LastSaved = time.Time{}, time.Time{}
	return sameJSON(left, right)
}

func sameWorkflow(a, b *entity.WorkflowContext) bool {
	left, right := a.Clone(), b.Clone()
	for _, wc := range []*entity.WorkflowContext{left, right} {
		wc.StartedAt = storeTime(wc.StartedAt)
		wc.UpdatedAt = storeTime(wc.UpdatedAt)
		if wc.CompletedAt != nil {
			done := storeTime(*wc.CompletedAt)
			wc.CompletedAt = &done
		}
	}
	return sameJSON(left, right)
}

func sameJSON(a, b interface{}) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
