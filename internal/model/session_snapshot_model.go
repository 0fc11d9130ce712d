package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Snapshot struct {
	Id            uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	UserId        uuid.UUID                   `gorm:"type:uuid;not null;index"`
	SessionId     uuid.UUID                   `gorm:"type:uuid;not null;index"`
	SnapshotType  string                      `gorm:"type:varchar(20);not null"`
	Timestamp     time.Time                   `gorm:"not null;index"`
	Data          []byte                      `gorm:"not null"` // zstd compressed JSON
	Size          int64                       `gorm:"not null"`
	Description   string                      `gorm:"type:text"`
	Tags          datatypes.JSONSlice[string] `json:"tags"`
	IsRecoverable bool                        `gorm:"not null;default:true"`
	ExpiresAt     *time.Time                  `gorm:"index"`
}

func (Snapshot) TableName() string {
	return "session_snapshots"
}
