package entity

import (
	"time"

	"github.com/google/uuid"
)

type SnapshotType string

const (
	SnapshotTypeAuto       SnapshotType = "auto"
	SnapshotTypeManual     SnapshotType = "manual"
	SnapshotTypeCheckpoint SnapshotType = "checkpoint"
)

func (t SnapshotType) Valid() bool {
	return t == SnapshotTypeAuto || t == SnapshotTypeManual || t == SnapshotTypeCheckpoint
}

// SnapshotDataVersion is the payload version written by this build.
const SnapshotDataVersion = 1

type Snapshot struct {
	Id            uuid.UUID
	UserId        uuid.UUID
	SessionId     uuid.UUID
	SnapshotType  SnapshotType
	Timestamp     time.Time
	Data          *SnapshotData
	Size          int64
	Description   string
	Tags          []string
	IsRecoverable bool
	ExpiresAt     *time.Time
}

type SnapshotData struct {
	Version      int                `json:"version"`
	Session      SnapshotSession    `json:"session"`
	Messages     []Message          `json:"messages"`
	Viewer       *ViewerState       `json:"viewer,omitempty"`
	Workflows    []*WorkflowContext `json:"workflows,omitempty"`
	Interactions []InteractionEvent `json:"interactions,omitempty"`
}

type SnapshotSession struct {
	Id           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	Description  *string           `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
	MessageCount int               `json:"message_count"`
}
