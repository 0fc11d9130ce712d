package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SyncOperation lives in the local journal database, not the remote store.
type SyncOperation struct {
	Id            string         `gorm:"type:varchar(26);primaryKey"`
	Type          string         `gorm:"type:varchar(32);not null"`
	Target        string         `gorm:"type:text;not null"`
	SessionId     *uuid.UUID     `gorm:"type:uuid;index"`
	Payload       datatypes.JSON `json:"payload"`
	Timestamp     time.Time      `gorm:"not null"`
	Priority      int            `gorm:"not null"`
	RetryCount    int            `gorm:"not null;default:0"`
	MaxRetries    int            `gorm:"not null"`
	Status        string         `gorm:"type:varchar(20);not null;index"`
	LastError     *string        `gorm:"type:text"`
	NextAttemptAt time.Time      `gorm:"not null"`
	CompletedAt   *time.Time     `gorm:"index"`
}

func (SyncOperation) TableName() string {
	return "sync_operations"
}
