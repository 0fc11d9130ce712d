package dto

import (
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/pkg/snapshot"

	"github.com/google/uuid"
)

type CreateSnapshotRequest struct {
	Type        entity.SnapshotType `json:"type" validate:"required,oneof=auto manual checkpoint"`
	Description string              `json:"description" validate:"max=500"`
}

type SnapshotResponse struct {
	Id            uuid.UUID           `json:"id"`
	SessionId     uuid.UUID           `json:"session_id"`
	Type          entity.SnapshotType `json:"type"`
	Timestamp     time.Time           `json:"timestamp"`
	Size          int64               `json:"size"`
	Description   string              `json:"description,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	IsRecoverable bool                `json:"is_recoverable"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

func NewSnapshotResponse(s *entity.Snapshot) *SnapshotResponse {
	return &SnapshotResponse{
		Id:            s.Id,
		SessionId:     s.SessionId,
		Type:          s.SnapshotType,
		Timestamp:     s.Timestamp,
		Size:          s.Size,
		Description:   s.Description,
		Tags:          s.Tags,
		IsRecoverable: s.IsRecoverable,
		ExpiresAt:     s.ExpiresAt,
	}
}

type RestoreRequest struct {
	SessionId            *uuid.UUID `json:"session_id"`
	SnapshotId           *uuid.UUID `json:"snapshot_id"`
	ValidateIntegrity    bool       `json:"validate_integrity"`
	CreatePreSnapshot    bool       `json:"create_pre_snapshot"`
	FallbackToCheckpoint bool       `json:"fallback_to_checkpoint"`
}

func (r RestoreRequest) Options() snapshot.RestoreOptions {
	return snapshot.RestoreOptions{
		SessionId:            r.SessionId,
		SnapshotId:           r.SnapshotId,
		ValidateIntegrity:    r.ValidateIntegrity,
		CreatePreSnapshot:    r.CreatePreSnapshot,
		FallbackToCheckpoint: r.FallbackToCheckpoint,
	}
}

type RepairRequest struct {
	FixMessageCount  bool `json:"fix_message_count"`
	RemoveDuplicates bool `json:"remove_duplicates"`
	FixActiveFlags   bool `json:"fix_active_flags"`
	CreateSnapshot   bool `json:"create_snapshot"`
}

func (r RepairRequest) Options() snapshot.RepairOptions {
	return snapshot.RepairOptions{
		FixMessageCount:  r.FixMessageCount,
		RemoveDuplicates: r.RemoveDuplicates,
		FixActiveFlags:   r.FixActiveFlags,
		CreateSnapshot:   r.CreateSnapshot,
	}
}
