package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/export"

	"github.com/google/uuid"
)

// ExportedFile is a rendered transcript.
type ExportedFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

type ISessionService interface {
	Create(ctx context.Context, userId uuid.UUID, req *dto.CreateSessionRequest) (*dto.SessionResponse, error)
	GetAll(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error)
	Activate(ctx context.Context, userId, sessionId uuid.UUID) (*dto.SessionStateResponse, error)
	Export(ctx context.Context, userId, sessionId uuid.UUID, format string) (*ExportedFile, error)

	PatchChat(ctx context.Context, userId, sessionId uuid.UUID, req *dto.ChatPatchRequest) (*dto.PatchResponse, error)
	PatchViewer(ctx context.Context, userId, sessionId uuid.UUID, req *dto.ViewerPatchRequest) (*dto.PatchResponse, error)
	PatchWorkflow(ctx context.Context, userId, sessionId uuid.UUID, req *dto.WorkflowPatchRequest) (*dto.PatchResponse, error)
	PatchInteractions(ctx context.Context, userId, sessionId uuid.UUID, req *dto.InteractionsPatchRequest) (*dto.PatchResponse, error)
	PatchMetadata(ctx context.Context, userId, sessionId uuid.UUID, req *dto.MetadataPatchRequest) (*dto.PatchResponse, error)
	ForceSave(ctx context.Context, userId, sessionId uuid.UUID) error
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
	aggregator *aggregator.Aggregator
	now        func() time.Time
}

func NewSessionService(uowFactory unitofwork.RepositoryFactory, agg *aggregator.Aggregator) ISessionService {
	return &sessionService{uowFactory: uowFactory, aggregator: agg, now: time.Now}
}

func (s *sessionService) Create(ctx context.Context, userId uuid.UUID, req *dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	session, err := s.aggregator.CreateSession(ctx, userId, req.Title)
	if err != nil {
		return nil, err
	}
	if req.Description != nil || len(req.Tags) > 0 || len(req.Settings) > 0 {
		update := aggregator.MetadataUpdate{Description: req.Description, Settings: req.Settings}
		if len(req.Tags) > 0 {
			update.Tags = &req.Tags
		}
		if err := s.aggregator.UpdateSessionMetadata(session.Id, update); err != nil {
			return nil, err
		}
		if state, ok := s.aggregator.State(session.Id); ok {
			return dto.NewSessionResponse(state.Session), nil
		}
	}
	return dto.NewSessionResponse(*session), nil
}

// GetAll lists the user's sessions, most recently accessed first. Open
// sessions report their in-memory copy.
func (s *sessionService) GetAll(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	sessions, err := uow.SessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "last_accessed_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		if state, ok := s.aggregator.State(session.Id); ok {
			result = append(result, dto.NewSessionResponse(state.Session))
			continue
		}
		result = append(result, dto.NewSessionResponse(*session))
	}
	return result, nil
}

func (s *sessionService) Activate(ctx context.Context, userId, sessionId uuid.UUID) (*dto.SessionStateResponse, error) {
	state, err := s.aggregator.SwitchSession(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	return stateResponse(state), nil
}

func (s *sessionService) Export(ctx context.Context, userId, sessionId uuid.UUID, format string) (*ExportedFile, error) {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return nil, err
	}
	transcript, err := s.transcript(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := exporter.Export(transcript, &buf); err != nil {
		return nil, fmt.Errorf("render %s transcript: %w", exporter.Extension(), err)
	}
	return &ExportedFile{
		Filename:    fmt.Sprintf("session-%s.%s", sessionId.String()[:8], exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     buf.Bytes(),
	}, nil
}

// transcript prefers the open in-memory copy so unsaved messages are part of
// the export.
func (s *sessionService) transcript(ctx context.Context, userId, sessionId uuid.UUID) (*export.Transcript, error) {
	if state, ok := s.aggregator.State(sessionId); ok {
		if state.Session.UserId != userId {
			return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionId, userId)
		}
		return &export.Transcript{Session: state.Session, Messages: state.Messages, ExportedAt: s.now()}, nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("session %s not found", sessionId)
	}
	if session.UserId != userId {
		return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionId, userId)
	}
	messages, err := uow.MessageRepository().FindAll(ctx, specification.BySessionID{SessionID: sessionId})
	if err != nil {
		return nil, err
	}
	out := make([]entity.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return &export.Transcript{Session: *session, Messages: out, ExportedAt: s.now()}, nil
}

func (s *sessionService) PatchChat(ctx context.Context, userId, sessionId uuid.UUID, req *dto.ChatPatchRequest) (*dto.PatchResponse, error) {
	return s.patch(ctx, userId, sessionId, func() error {
		return s.aggregator.UpdateChatState(sessionId, aggregator.ChatUpdate{Messages: req.Messages})
	})
}

func (s *sessionService) PatchViewer(ctx context.Context, userId, sessionId uuid.UUID, req *dto.ViewerPatchRequest) (*dto.PatchResponse, error) {
	return s.patch(ctx, userId, sessionId, func() error {
		return s.aggregator.UpdateViewerState(sessionId, aggregator.ViewerUpdate{
			Structures:      req.Structures,
			Camera:          req.Camera,
			Representations: req.Representations,
			Selections:      req.Selections,
			Measurements:    req.Measurements,
			Annotations:     req.Annotations,
		})
	})
}

func (s *sessionService) PatchWorkflow(ctx context.Context, userId, sessionId uuid.UUID, req *dto.WorkflowPatchRequest) (*dto.PatchResponse, error) {
	if req.Workflow.UserId != uuid.Nil && req.Workflow.UserId != userId {
		return nil, apperror.Unauthorized("workflow %s belongs to another user", req.Workflow.WorkflowId)
	}
	req.Workflow.UserId = userId
	req.Workflow.SessionId = sessionId
	return s.patch(ctx, userId, sessionId, func() error {
		return s.aggregator.UpdateAIWorkflowState(sessionId, req.Workflow)
	})
}

func (s *sessionService) PatchInteractions(ctx context.Context, userId, sessionId uuid.UUID, req *dto.InteractionsPatchRequest) (*dto.PatchResponse, error) {
	return s.patch(ctx, userId, sessionId, func() error {
		return s.aggregator.UpdateInteractions(sessionId, req.Events...)
	})
}

func (s *sessionService) PatchMetadata(ctx context.Context, userId, sessionId uuid.UUID, req *dto.MetadataPatchRequest) (*dto.PatchResponse, error) {
	return s.patch(ctx, userId, sessionId, func() error {
		return s.aggregator.UpdateSessionMetadata(sessionId, aggregator.MetadataUpdate{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
			Settings:    req.Settings,
		})
	})
}

func (s *sessionService) ForceSave(ctx context.Context, userId, sessionId uuid.UUID) error {
	if _, err := s.aggregator.Open(ctx, userId, sessionId); err != nil {
		return err
	}
	return s.aggregator.ForceSave(ctx, &sessionId)
}

// patch opens the session for userId, which also checks ownership, and
// buffers the update.
func (s *sessionService) patch(ctx context.Context, userId, sessionId uuid.UUID, apply func() error) (*dto.PatchResponse, error) {
	if _, err := s.aggregator.Open(ctx, userId, sessionId); err != nil {
		return nil, err
	}
	if err := apply(); err != nil {
		return nil, err
	}
	return &dto.PatchResponse{SessionId: sessionId, PendingUpdates: s.aggregator.GetPendingUpdatesCount()}, nil
}

func stateResponse(state *aggregator.SessionState) *dto.SessionStateResponse {
	messages := state.Messages
	if messages == nil {
		messages = []entity.Message{}
	}
	return &dto.SessionStateResponse{
		Session:   dto.NewSessionResponse(state.Session),
		Messages:  messages,
		Viewer:    state.Viewer,
		Workflows: state.Workflows,
	}
}
