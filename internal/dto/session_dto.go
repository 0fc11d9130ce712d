package dto

import (
	"time"

	"bioai-workspace-be/internal/entity"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	Title       string            `json:"title" validate:"max=200"`
	Description *string           `json:"description"`
	Tags        []string          `json:"tags" validate:"max=20"`
	Settings    map[string]string `json:"settings"`
}

type SessionResponse struct {
	Id             uuid.UUID         `json:"id"`
	Title          string            `json:"title"`
	Description    *string           `json:"description,omitempty"`
	MessageCount   int               `json:"message_count"`
	IsActive       bool              `json:"is_active"`
	Tags           []string          `json:"tags"`
	Settings       map[string]string `json:"settings,omitempty"`
	Revision       int64             `json:"revision"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
}

func NewSessionResponse(s entity.Session) *SessionResponse {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return &SessionResponse{
		Id:             s.Id,
		Title:          s.Title,
		Description:    s.Description,
		MessageCount:   s.MessageCount,
		IsActive:       s.IsActive,
		Tags:           tags,
		Settings:       s.Settings,
		Revision:       s.Revision,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// SessionStateResponse is a full session as held in memory.
type SessionStateResponse struct {
	Session   *SessionResponse          `json:"session"`
	Messages  []entity.Message          `json:"messages"`
	Viewer    *entity.ViewerState       `json:"viewer,omitempty"`
	Workflows []*entity.WorkflowContext `json:"workflows,omitempty"`
}

type ExportQuery struct {
	Format string `query:"format" validate:"omitempty,oneof=json text txt md markdown yaml yml"`
}

type ChatPatchRequest struct {
	Messages []entity.Message `json:"messages" validate:"required,min=1,dive"`
}

type ViewerPatchRequest struct {
	Structures      *[]entity.Structure      `json:"structures"`
	Camera          *entity.CameraPose       `json:"camera"`
	Representations *[]entity.Representation `json:"representations"`
	Selections      *[]entity.Selection      `json:"selections"`
	Measurements    *[]entity.Measurement    `json:"measurements"`
	Annotations     *[]entity.Annotation     `json:"annotations"`
}

type WorkflowPatchRequest struct {
	Workflow *entity.WorkflowContext `json:"workflow" validate:"required"`
}

type InteractionsPatchRequest struct {
	Events []entity.InteractionEvent `json:"events" validate:"required,min=1,max=100"`
}

type MetadataPatchRequest struct {
	Title       *string           `json:"title" validate:"omitempty,max=200"`
	Description *string           `json:"description"`
	Tags        *[]string         `json:"tags"`
	Settings    map[string]string `json:"settings"`
}

type PatchResponse struct {
	SessionId      uuid.UUID `json:"session_id"`
	PendingUpdates int       `json:"pending_updates"`
}
