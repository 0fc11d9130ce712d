package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Session struct {
	Id             uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	UserId         uuid.UUID                   `gorm:"type:uuid;not null;index:idx_sessions_user_active,priority:1"`
	Title          string                      `gorm:"type:text;not null"`
	Description    *string                     `gorm:"type:text"`
	MessageCount   int                         `gorm:"not null;default:0"`
	IsActive       bool                        `gorm:"not null;default:false;index:idx_sessions_user_active,priority:2"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	Settings       datatypes.JSON              `json:"settings"`
	Revision       int64                       `gorm:"not null;default:0"`
	LastWriter     string                      `gorm:"type:varchar(64)"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime"`
	LastAccessedAt time.Time                   `gorm:"not null;index"`
}

func (Session) TableName() string {
	return "workspace_sessions"
}

type Message struct {
	Id        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID      `gorm:"type:uuid;not null;index:idx_messages_session_time,priority:1"`
	Role      string         `gorm:"type:varchar(20);not null"`
	Content   string         `gorm:"type:text;not null"`
	Status    string         `gorm:"type:varchar(20);not null;default:'sent'"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Timestamp time.Time      `gorm:"not null;index:idx_messages_session_time,priority:2"`
}

func (Message) TableName() string {
	return "workspace_messages"
}

type UserPreference struct {
	UserId    uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Viewer    datatypes.JSON `json:"viewer"`
	Chat      datatypes.JSON `json:"chat"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}
