package entity

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	Id           uuid.UUID         `json:"id"`
	UserId       uuid.UUID         `json:"user_id"`
	Title        string            `json:"title"`
	Description  *string           `json:"description,omitempty"`
	MessageCount int               `json:"message_count"`
	IsActive     bool              `json:"is_active"`
	Tags         []string          `json:"tags"`
	Settings     map[string]string `json:"settings"`
	Revision     int64             `json:"revision"`
	// LastWriter identifies the writer of the latest applied revision.
	LastWriter     string    `json:"last_writer,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type MessageStatus string

const (
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusError   MessageStatus = "error"
)

type Message struct {
	Id        uuid.UUID         `json:"id"`
	SessionId uuid.UUID         `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Status    MessageStatus     `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type UserPreference struct {
	UserId    uuid.UUID      `json:"user_id"`
	Viewer    ViewerDefaults `json:"viewer"`
	Chat      ChatDefaults   `json:"chat"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ViewerDefaults struct {
	Background            string `json:"background,omitempty"`
	DefaultRepresentation string `json:"default_representation,omitempty"`
	Quality               string `json:"quality,omitempty"`
	ShowAxes              bool   `json:"show_axes"`
}

type ChatDefaults struct {
	ShowTimestamps bool   `json:"show_timestamps"`
	ExportFormat   string `json:"export_format,omitempty"`
}
