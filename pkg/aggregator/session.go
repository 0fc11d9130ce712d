package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/ringbuf"

	"github.com/google/uuid"
)

// CreateSession stores a new session as the user's only active one and
// opens it.
func (a *Aggregator) CreateSession(ctx context.Context, userID uuid.UUID, title string) (*entity.Session, error) {
	if title == "" {
		title = constant.DefaultSessionTitle
	}
	now := a.opts.Scheduler.Now()
	session := &entity.Session{
		Id:             uuid.New(),
		UserId:         userID,
		Title:          title,
		IsActive:       true,
		Tags:           []string{},
		Settings:       map[string]string{},
		LastAccessedAt: now,
	}

	uow := a.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	if err := uow.SessionRepository().Create(ctx, session); err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("create session: %w", err)
	}
	demoted, err := uow.SessionRepository().DeactivateOthers(ctx, userID, session.Id)
	if err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("demote sessions: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	a.markInactive(userID, session.Id)
	a.Hydrate(session.Id, userID, SessionState{Session: *session})

	a.opts.Logger.Info(module, "Session created", map[string]interface{}{
		"session_id": session.Id,
		"user_id":    userID,
		"demoted":    demoted,
	})
	if a.opts.Audit != nil {
		a.opts.Audit.PublishSessionActivated(ctx, userID, session.Id)
	}
	return session, nil
}

// SwitchSession makes sessionID the user's only active session, flushes
// whatever the user left dirty elsewhere and returns the loaded state.
func (a *Aggregator) SwitchSession(ctx context.Context, userID, sessionID uuid.UUID) (*SessionState, error) {
	uow := a.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}

	session, err := findOwned(ctx, uow, userID, sessionID)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	session.IsActive = true
	session.LastAccessedAt = a.opts.Scheduler.Now()
	if err := uow.SessionRepository().Activate(ctx, session.Id, session.LastAccessedAt); err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("activate session: %w", err)
	}
	if _, err := uow.SessionRepository().DeactivateOthers(ctx, userID, sessionID); err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("demote sessions: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	for _, other := range a.openSessionsOf(userID) {
		if other != sessionID {
			if err := a.flush(ctx, other, false); err != nil {
				a.opts.Logger.Warn(module, "Flush before switch failed", map[string]interface{}{
					"session_id": other,
					"error":      err.Error(),
				})
			}
		}
	}
	a.markInactive(userID, sessionID)

	a.mu.Lock()
	b, open := a.sessions[sessionID]
	if open {
		b.session.IsActive = true
		b.session.LastAccessedAt = session.LastAccessedAt
	}
	a.mu.Unlock()
	if !open {
		state, err := a.load(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		a.Hydrate(sessionID, userID, *state)
	}

	if a.opts.Audit != nil {
		a.opts.Audit.PublishSessionActivated(ctx, userID, sessionID)
	}
	state, _ := a.State(sessionID)
	return state, nil
}

// Open makes sure sessionID is held in memory for userID and returns it.
func (a *Aggregator) Open(ctx context.Context, userID, sessionID uuid.UUID) (*SessionState, error) {
	a.mu.Lock()
	b, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if ok {
		if b.userID != userID {
			return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionID, userID)
		}
		state, _ := a.State(sessionID)
		return state, nil
	}

	state, err := a.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	a.Hydrate(sessionID, userID, *state)
	return state, nil
}

// Hydrate replaces the in-memory copy of a session, dropping anything still
// buffered for it.
func (a *Aggregator) Hydrate(sessionID, userID uuid.UUID, state SessionState) {
	b := newBuffer(userID)
	state = cloneState(state)
	b.session = state.Session
	b.session.Id = sessionID
	b.session.UserId = userID
	b.revision = state.Session.Revision
	b.messages = state.Messages
	sortMessages(b.messages)
	if state.Viewer != nil {
		b.interactions = ringbuf.FromSlice(entity.MaxInteractions, state.Viewer.Interactions)
		viewer := *state.Viewer
		viewer.Interactions = nil
		viewer.SessionId = sessionID
		b.viewer = &viewer
	}
	for _, wc := range state.Workflows {
		if wc != nil && wc.WorkflowId != "" {
			wc.Normalize()
			b.workflows[wc.WorkflowId] = wc
		}
	}

	a.mu.Lock()
	if old, ok := a.sessions[sessionID]; ok {
		old.stopTimers()
		b.flushing, b.flushDone = old.flushing, old.flushDone
	}
	a.sessions[sessionID] = b
	a.mu.Unlock()

	a.emit(StatusEvent{SessionId: sessionID, UserId: userID, Status: StatusIdle, Revision: b.revision})
}

// State returns a copy of the in-memory session.
func (a *Aggregator) State(sessionID uuid.UUID) (*SessionState, bool) {
	a.mu.Lock()
	b, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return nil, false
	}
	state := cloneState(b.snapshot())
	a.mu.Unlock()
	return &state, true
}

// Evict drops a session from memory without flushing it.
func (a *Aggregator) Evict(sessionID uuid.UUID) {
	a.mu.Lock()
	if b, ok := a.sessions[sessionID]; ok {
		b.stopTimers()
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
}

// snapshot requires a.mu. The result shares memory with b.
func (b *buffer) snapshot() SessionState {
	state := SessionState{
		Session:  b.session,
		Messages: b.messages,
	}
	state.Session.MessageCount = len(b.messages)
	state.Session.Revision = b.revision
	if b.viewer != nil || b.interactions.Len() > 0 {
		viewer := entity.ViewerState{SessionId: b.session.Id}
		if b.viewer != nil {
			viewer = *b.viewer
		}
		viewer.Interactions = b.interactions.Slice()
		state.Viewer = &viewer
	}
	for _, wc := range b.workflows {
		state.Workflows = append(state.Workflows, wc)
	}
	sort.Slice(state.Workflows, func(i, j int) bool {
		if state.Workflows[i].StartedAt.Equal(state.Workflows[j].StartedAt) {
			return state.Workflows[i].WorkflowId < state.Workflows[j].WorkflowId
		}
		return state.Workflows[i].StartedAt.Before(state.Workflows[j].StartedAt)
	})
	return state
}

func (a *Aggregator) load(ctx context.Context, userID, sessionID uuid.UUID) (*SessionState, error) {
	uow := a.uowFactory.NewUnitOfWork(ctx)
	session, err := findOwned(ctx, uow, userID, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: sessionID},
		specification.OrderByTimestamp{},
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	viewer, err := uow.ViewerStateRepository().FindOne(ctx,
		specification.BySessionID{SessionID: sessionID},
		specification.OrderBy{Field: "last_saved", Desc: true},
	)
	if err != nil {
		return nil, fmt.Errorf("load viewer state: %w", err)
	}
	workflows, err := uow.WorkflowContextRepository().FindAll(ctx, specification.BySessionID{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load workflow contexts: %w", err)
	}

	state := &SessionState{Session: *session, Viewer: viewer, Workflows: workflows}
	for _, m := range messages {
		state.Messages = append(state.Messages, *m)
	}
	return state, nil
}

func findOwned(ctx context.Context, uow unitofwork.UnitOfWork, userID, sessionID uuid.UUID) (*entity.Session, error) {
	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("session %s not found", sessionID)
	}
	if session.UserId != userID {
		return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionID, userID)
	}
	return session, nil
}

func (a *Aggregator) openSessionsOf(userID uuid.UUID) []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []uuid.UUID
	for id, b := range a.sessions {
		if b.userID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Aggregator) markInactive(userID, keep uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, b := range a.sessions {
		if b.userID == userID && id != keep {
			b.session.IsActive = false
		}
	}
}

func sortMessages(msgs []entity.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func cloneState(s SessionState) SessionState {
	raw, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var out SessionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return s
	}
	return out
}
