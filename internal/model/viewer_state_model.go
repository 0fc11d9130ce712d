package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ViewerState is not unique per session at the schema level; duplicates are
// reported and repaired by the integrity checker.
type ViewerState struct {
	Id           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SessionId    uuid.UUID      `gorm:"type:uuid;not null;index"`
	State        datatypes.JSON `json:"state"`
	Interactions datatypes.JSON `json:"interactions"`
	LastSaved    time.Time      `gorm:"not null"`
}

func (ViewerState) TableName() string {
	return "viewer_states"
}
