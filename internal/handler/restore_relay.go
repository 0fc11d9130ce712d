package handler

import (
	"context"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	internalWS "bioai-workspace-be/internal/websocket"
	"bioai-workspace-be/pkg/aggregator"

	"github.com/google/uuid"
)

const (
	EventViewerRestore = "viewer_restore"
	EventChatRestore   = "chat_restore"
	EventPreferences   = "preferences"
)

// sessionStates is the read side of the state aggregator.
type sessionStates interface {
	State(sessionID uuid.UUID) (*aggregator.SessionState, bool)
}

// RestoreRelay stands in for the live viewer and chat pane during a restore.
// It hands the restored state to the owner's open tabs over the status
// socket.
type RestoreRelay struct {
	hub        *internalWS.Hub
	sessions   sessionStates
	uowFactory unitofwork.RepositoryFactory
}

func NewRestoreRelay(hub *internalWS.Hub, sessions sessionStates, uowFactory unitofwork.RepositoryFactory) *RestoreRelay {
	return &RestoreRelay{hub: hub, sessions: sessions, uowFactory: uowFactory}
}

func (r *RestoreRelay) RestoreViewerState(ctx context.Context, state entity.ViewerState) error {
	owner, ok, err := r.owner(ctx, state.SessionId)
	if err != nil || !ok {
		return err
	}
	r.hub.Send(owner, EventViewerRestore, state)
	return nil
}

func (r *RestoreRelay) ApplyPreferences(ctx context.Context, prefs entity.UserPreference) error {
	r.hub.Send(prefs.UserId, EventPreferences, prefs)
	return nil
}

func (r *RestoreRelay) RestoreChat(ctx context.Context, sessionID uuid.UUID, messages []entity.Message) error {
	owner, ok, err := r.owner(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	r.hub.Send(owner, EventChatRestore, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
	return nil
}

// owner resolves the session's user from memory, falling back to the store.
func (r *RestoreRelay) owner(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error) {
	if state, ok := r.sessions.State(sessionID); ok {
		return state.Session.UserId, true, nil
	}
	session, err := r.uowFactory.NewUnitOfWork(ctx).SessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return uuid.Nil, false, err
	}
	if session == nil {
		return uuid.Nil, false, nil
	}
	return session.UserId, true, nil
}
