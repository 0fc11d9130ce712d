package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/aggregator"

	"github.com/google/uuid"
)

// restoreWriter marks revisions written by a restore.
const restoreWriter = "snapshot-restore"

func loadState(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session) (*aggregator.SessionState, error) {
	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.BySessionID{SessionID: session.Id},
		specification.OrderByTimestamp{},
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	viewer, err := uow.ViewerStateRepository().FindOne(ctx,
		specification.BySessionID{SessionID: session.Id},
		specification.OrderBy{Field: "last_saved", Desc: true},
	)
	if err != nil {
		return nil, fmt.Errorf("load viewer state: %w", err)
	}
	workflows, err := uow.WorkflowContextRepository().FindAll(ctx,
		specification.BySessionID{SessionID: session.Id},
		specification.OrderBy{Field: "started_at"},
	)
	if err != nil {
		return nil, fmt.Errorf("load workflow contexts: %w", err)
	}

	state := &aggregator.SessionState{Session: *session, Viewer: viewer, Workflows: workflows}
	for _, msg := range messages {
		state.Messages = append(state.Messages, *msg)
	}
	return state, nil
}

func toData(state aggregator.SessionState) *entity.SnapshotData {
	s := state.Session
	data := &entity.SnapshotData{
		Version: entity.SnapshotDataVersion,
		Session: entity.SnapshotSession{
			Id:           s.Id,
			Title:        s.Title,
			Description:  s.Description,
			Tags:         s.Tags,
			Settings:     s.Settings,
			MessageCount: len(state.Messages),
		},
		Messages:  state.Messages,
		Workflows: state.Workflows,
	}
	if state.Viewer != nil {
		viewer := *state.Viewer
		data.Interactions = viewer.Interactions
		viewer.Interactions = nil
		data.Viewer = &viewer
	}
	return data
}

// fromData rebuilds a session state. The session itself only carries the
// snapshotted metadata.
func fromData(data *entity.SnapshotData) aggregator.SessionState {
	state := aggregator.SessionState{Messages: append([]entity.Message{}, data.Messages...)}
	applySessionData(&state.Session, data.Session)
	state.Session.Id = data.Session.Id
	sort.SliceStable(state.Messages, func(i, j int) bool {
		return state.Messages[i].Timestamp.Before(state.Messages[j].Timestamp)
	})
	if data.Viewer != nil || len(data.Interactions) > 0 {
		viewer := entity.ViewerState{SessionId: data.Session.Id}
		if data.Viewer != nil {
			viewer = *data.Viewer
		}
		viewer.Interactions = append([]entity.InteractionEvent{}, data.Interactions...)
		state.Viewer = &viewer
	}
	for _, wc := range data.Workflows {
		if wc == nil {
			continue
		}
		wc = wc.Clone()
		if wc.SchemaVersion < entity.WorkflowSchemaVersion {
			wc.SchemaVersion = entity.WorkflowSchemaVersion
		}
		state.Workflows = append(state.Workflows, wc)
	}
	return state
}

func applySessionData(session *entity.Session, data entity.SnapshotSession) {
	session.Title = data.Title
	session.Description = data.Description
	session.Tags = append([]string{}, data.Tags...)
	session.Settings = make(map[string]string, len(data.Settings))
	for k, v := range data.Settings {
		session.Settings[k] = v
	}
	if session.Title == "" {
		session.Title = "Restored session"
	}
}

// writeChat replaces the stored transcript of a session.
func writeChat(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID, messages []entity.Message) error {
	if _, err := uow.MessageRepository().DeleteBySessionId(ctx, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i := range messages {
		msg := messages[i]
		msg.SessionId = sessionID
		if err := uow.MessageRepository().Create(ctx, &msg); err != nil {
			return fmt.Errorf("restore message %s: %w", msg.Id, err)
		}
	}
	if err := uow.SessionRepository().SetMessageCount(ctx, sessionID, len(messages)); err != nil {
		return fmt.Errorf("restore message count: %w", err)
	}
	return nil
}

// writeViewer replaces the stored viewer state. A nil state clears it.
func writeViewer(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID, viewer *entity.ViewerState) error {
	if _, err := uow.ViewerStateRepository().DeleteBySessionId(ctx, sessionID); err != nil {
		return fmt.Errorf("clear viewer state: %w", err)
	}
	if viewer == nil {
		return nil
	}
	state := *viewer
	state.SessionId = sessionID
	if len(state.Interactions) > entity.MaxInteractions {
		state.Interactions = state.Interactions[len(state.Interactions)-entity.MaxInteractions:]
	}
	if err := uow.ViewerStateRepository().Create(ctx, &state); err != nil {
		return fmt.Errorf("restore viewer state: %w", err)
	}
	return nil
}

// writeWorkflows replaces the stored workflow contexts of a session.
func writeWorkflows(ctx context.Context, uow unitofwork.UnitOfWork, userID, sessionID uuid.UUID, workflows []*entity.WorkflowContext) error {
	if _, err := uow.WorkflowContextRepository().DeleteBySessionId(ctx, sessionID); err != nil {
		return fmt.Errorf("clear workflow contexts: %w", err)
	}
	for _, wc := range workflows {
		copied := wc.Clone()
		copied.UserId = userID
		copied.SessionId = sessionID
		if err := uow.WorkflowContextRepository().Save(ctx, copied); err != nil {
			return fmt.Errorf("restore workflow %s: %w", copied.WorkflowId, err)
		}
	}
	return nil
}

// materialize stores snapshot data as a brand new inactive session of
// userID. Records get fresh ids so nothing collides with the source.
func materialize(ctx context.Context, uow unitofwork.UnitOfWork, userID uuid.UUID, data *entity.SnapshotData, title string, now time.Time) (*aggregator.SessionState, error) {
	state := fromData(data)
	session := state.Session
	session.Id = uuid.New()
	session.UserId = userID
	session.IsActive = false
	session.LastAccessedAt = now
	if title != "" {
		session.Title = title
	}
	if err := uow.SessionRepository().Create(ctx, &session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for i := range state.Messages {
		state.Messages[i].Id = uuid.New()
		state.Messages[i].SessionId = session.Id
	}
	if state.Viewer != nil {
		state.Viewer.Id = uuid.New()
		state.Viewer.SessionId = session.Id
	}
	suffix := session.Id.String()[:8]
	for _, wc := range state.Workflows {
		wc.WorkflowId = wc.WorkflowId + "@" + suffix
		wc.SessionId = session.Id
		wc.UserId = userID
	}

	if err := writeChat(ctx, uow, session.Id, state.Messages); err != nil {
		return nil, err
	}
	if err := writeViewer(ctx, uow, session.Id, state.Viewer); err != nil {
		return nil, err
	}
	if err := writeWorkflows(ctx, uow, userID, session.Id, state.Workflows); err != nil {
		return nil, err
	}

	session.MessageCount = len(state.Messages)
	state.Session = session
	return &state, nil
}
