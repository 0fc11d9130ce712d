package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WorkflowContext struct {
	WorkflowId    string         `gorm:"type:varchar(128);primaryKey"`
	UserId        uuid.UUID      `gorm:"type:uuid;not null;index"`
	SessionId     uuid.UUID      `gorm:"type:uuid;not null;index"`
	WorkflowType  string         `gorm:"type:varchar(64);not null"`
	SchemaVersion int            `gorm:"not null;default:1"`
	Status        string         `gorm:"type:varchar(20);not null;index"`
	Progress      float64        `gorm:"not null;default:0"`
	Context       datatypes.JSON `json:"context"`
	StartedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
	CompletedAt   *time.Time     `gorm:"index"`
}

func (WorkflowContext) TableName() string {
	return "workflow_contexts"
}
