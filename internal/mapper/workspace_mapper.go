package mapper

import (
	"encoding/json"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/model"

	"gorm.io/datatypes"
)

type WorkspaceMapper struct{}

func NewWorkspaceMapper() *WorkspaceMapper {
	return &WorkspaceMapper{}
}

// Session Mappers

func (m *WorkspaceMapper) SessionToEntity(s *model.Session) *entity.Session {
	if s == nil {
		return nil
	}

	settings := map[string]string{}
	if len(s.Settings) > 0 {
		_ = json.Unmarshal(s.Settings, &settings)
	}

	return &entity.Session{
		Id:             s.Id,
		UserId:         s.UserId,
		Title:          s.Title,
		Description:    s.Description,
		MessageCount:   s.MessageCount,
		IsActive:       s.IsActive,
		Tags:           []string(s.Tags),
		Settings:       settings,
		Revision:       s.Revision,
		LastWriter:     s.LastWriter,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

func (m *WorkspaceMapper) SessionToModel(s *entity.Session) *model.Session {
	if s == nil {
		return nil
	}

	return &model.Session{
		Id:             s.Id,
		UserId:         s.UserId,
		Title:          s.Title,
		Description:    s.Description,
		MessageCount:   s.MessageCount,
		IsActive:       s.IsActive,
		Tags:           datatypes.JSONSlice[string](s.Tags),
		Settings:       marshalJSON(s.Settings),
		Revision:       s.Revision,
		LastWriter:     s.LastWriter,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// Message Mappers

func (m *WorkspaceMapper) MessageToEntity(msg *model.Message) *entity.Message {
	if msg == nil {
		return nil
	}

	var metadata map[string]string
	if len(msg.Metadata) > 0 {
		_ = json.Unmarshal(msg.Metadata, &metadata)
	}

	return &entity.Message{
		Id:        msg.Id,
		SessionId: msg.SessionId,
		Role:      msg.Role,
		Content:   msg.Content,
		Status:    entity.MessageStatus(msg.Status),
		Metadata:  metadata,
		Timestamp: msg.Timestamp,
	}
}

func (m *WorkspaceMapper) MessageToModel(msg *entity.Message) *model.Message {
	if msg == nil {
		return nil
	}

	status := msg.Status
	if status == "" {
		status = entity.MessageStatusSent
	}

	var metadata datatypes.JSON
	if len(msg.Metadata) > 0 {
		metadata = marshalJSON(msg.Metadata)
	}

	return &model.Message{
		Id:        msg.Id,
		SessionId: msg.SessionId,
		Role:      msg.Role,
		Content:   msg.Content,
		Status:    string(status),
		Metadata:  metadata,
		Timestamp: msg.Timestamp,
	}
}

func (m *WorkspaceMapper) MessagesToEntities(msgs []*model.Message) []entity.Message {
	out := make([]entity.Message, 0, len(msgs))
	for _, msg := range msgs {
		if e := m.MessageToEntity(msg); e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// Viewer State Mappers

// viewerDocument is the stored JSON shape of everything but the
// interaction log, which has its own column.
type viewerDocument struct {
	Structures      []entity.Structure      `json:"structures"`
	Camera          *entity.CameraPose      `json:"camera,omitempty"`
	Representations []entity.Representation `json:"representations"`
	Selections      []entity.Selection      `json:"selections"`
	Measurements    []entity.Measurement    `json:"measurements"`
	Annotations     []entity.Annotation     `json:"annotations"`
}

func (m *WorkspaceMapper) ViewerStateToEntity(v *model.ViewerState) *entity.ViewerState {
	if v == nil {
		return nil
	}

	var doc viewerDocument
	if len(v.State) > 0 {
		_ = json.Unmarshal(v.State, &doc)
	}
	var interactions []entity.InteractionEvent
	if len(v.Interactions) > 0 {
		_ = json.Unmarshal(v.Interactions, &interactions)
	}

	return &entity.ViewerState{
		Id:              v.Id,
		SessionId:       v.SessionId,
		Structures:      doc.Structures,
		Camera:          doc.Camera,
		Representations: doc.Representations,
		Selections:      doc.Selections,
		Measurements:    doc.Measurements,
		Annotations:     doc.Annotations,
		Interactions:    interactions,
		LastSaved:       v.LastSaved,
	}
}

func (m *WorkspaceMapper) ViewerStateToModel(v *entity.ViewerState) *model.ViewerState {
	if v == nil {
		return nil
	}

	interactions := v.Interactions
	if len(interactions) > entity.MaxInteractions {
		interactions = interactions[len(interactions)-entity.MaxInteractions:]
	}

	return &model.ViewerState{
		Id:        v.Id,
		SessionId: v.SessionId,
		State: marshalJSON(viewerDocument{
			Structures:      v.Structures,
			Camera:          v.Camera,
			Representations: v.Representations,
			Selections:      v.Selections,
			Measurements:    v.Measurements,
			Annotations:     v.Annotations,
		}),
		Interactions: marshalJSON(interactions),
		LastSaved:    v.LastSaved,
	}
}

// Workflow Context Mappers

func (m *WorkspaceMapper) WorkflowContextToEntity(w *model.WorkflowContext) (*entity.WorkflowContext, error) {
	if w == nil {
		return nil, nil
	}

	wc, err := entity.DecodeWorkflowContext(w.SchemaVersion, w.Context)
	if err != nil {
		return nil, err
	}

	// Columns are authoritative for the indexed fields.
	wc.WorkflowId = w.WorkflowId
	wc.UserId = w.UserId
	wc.SessionId = w.SessionId
	wc.WorkflowType = w.WorkflowType
	wc.Status = entity.WorkflowStatus(w.Status)
	wc.Progress = w.Progress
	wc.StartedAt = w.StartedAt
	wc.CompletedAt = w.CompletedAt
	return wc, nil
}

func (m *WorkspaceMapper) WorkflowContextToModel(w *entity.WorkflowContext) *model.WorkflowContext {
	if w == nil {
		return nil
	}

	return &model.WorkflowContext{
		WorkflowId:    w.WorkflowId,
		UserId:        w.UserId,
		SessionId:     w.SessionId,
		WorkflowType:  w.WorkflowType,
		SchemaVersion: entity.WorkflowSchemaVersion,
		Status:        string(w.Status),
		Progress:      w.Progress,
		Context:       marshalJSON(w),
		StartedAt:     w.StartedAt,
		UpdatedAt:     w.UpdatedAt,
		CompletedAt:   w.CompletedAt,
	}
}

// User Preference Mappers

func (m *WorkspaceMapper) UserPreferenceToEntity(p *model.UserPreference) *entity.UserPreference {
	if p == nil {
		return nil
	}

	out := &entity.UserPreference{UserId: p.UserId, UpdatedAt: p.UpdatedAt}
	if len(p.Viewer) > 0 {
		_ = json.Unmarshal(p.Viewer, &out.Viewer)
	}
	if len(p.Chat) > 0 {
		_ = json.Unmarshal(p.Chat, &out.Chat)
	}
	return out
}

func (m *WorkspaceMapper) UserPreferenceToModel(p *entity.UserPreference) *model.UserPreference {
	if p == nil {
		return nil
	}

	return &model.UserPreference{
		UserId:    p.UserId,
		Viewer:    marshalJSON(p.Viewer),
		Chat:      marshalJSON(p.Chat),
		UpdatedAt: p.UpdatedAt,
	}
}

func marshalJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
