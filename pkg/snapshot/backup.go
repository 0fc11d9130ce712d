package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/mapper"
	"bioai-workspace-be/internal/pkg/apperror"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	BackupFormat  = "bioai-workspace-backup"
	BackupVersion = 1
)

// Backup is the portable form of a snapshot. Payload is the zstd compressed
// snapshot data and Checksum the xxhash64 of those bytes.
type Backup struct {
	Format       string              `json:"format"`
	Version      int                 `json:"version"`
	SnapshotId   uuid.UUID           `json:"snapshot_id"`
	SnapshotType entity.SnapshotType `json:"snapshot_type"`
	Description  string              `json:"description,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ExportedAt   time.Time           `json:"exported_at"`
	Checksum     string              `json:"checksum"`
	Payload      []byte              `json:"payload"`
}

func checksum(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// ExportBackup serializes one of the user's snapshots.
func (m *Manager) ExportBackup(ctx context.Context, userID, snapshotID uuid.UUID) ([]byte, error) {
	snap, err := m.GetSnapshot(ctx, userID, snapshotID)
	if err != nil {
		return nil, err
	}
	payload, _, err := mapper.NewSnapshotMapper().EncodeData(snap.Data)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(Backup{
		Format:       BackupFormat,
		Version:      BackupVersion,
		SnapshotId:   snap.Id,
		SnapshotType: snap.SnapshotType,
		Description:  snap.Description,
		Tags:         snap.Tags,
		CreatedAt:    snap.Timestamp,
		ExportedAt:   m.opts.Scheduler.Now(),
		Checksum:     checksum(payload),
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	m.opts.Logger.Info(module, "Backup exported", map[string]interface{}{
		"snapshot_id": snapshotID,
		"bytes":       len(out),
	})
	return out, nil
}

// ImportBackup verifies a backup and stores it as a new inactive session of
// userID together with a manual snapshot of it. Nothing is written unless
// the whole backup checks out.
func (m *Manager) ImportBackup(ctx context.Context, userID uuid.UUID, raw []byte) (*entity.Snapshot, error) {
	data, backup, err := m.verifyBackup(raw)
	if err != nil {
		m.opts.Logger.Warn(module, "Backup rejected", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}

	now := m.opts.Scheduler.Now()
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	state, err := materialize(ctx, uow, userID, data, "", now)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}

	description := backup.Description
	if description == "" {
		description = "imported backup"
	}
	snap := &entity.Snapshot{
		Id:            uuid.New(),
		UserId:        userID,
		SessionId:     state.Session.Id,
		SnapshotType:  entity.SnapshotTypeManual,
		Timestamp:     now,
		Data:          toData(*state),
		Description:   description,
		Tags:          backup.Tags,
		IsRecoverable: true,
		ExpiresAt:     m.expiry(entity.SnapshotTypeManual, now),
	}
	if err := uow.SnapshotRepository().Create(ctx, snap); err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("store imported snapshot: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	m.opts.Metrics.ObserveSnapshot(string(entity.SnapshotTypeManual))
	m.opts.Logger.Info(module, "Backup imported", map[string]interface{}{
		"source_snapshot_id": backup.SnapshotId,
		"snapshot_id":        snap.Id,
		"session_id":         state.Session.Id,
		"messages":           len(state.Messages),
	})
	if m.opts.Audit != nil {
		m.opts.Audit.PublishSnapshotCreated(ctx, userID, state.Session.Id, snap.Id, string(snap.SnapshotType), snap.Size)
	}
	return snap, nil
}

func (m *Manager) verifyBackup(raw []byte) (*entity.SnapshotData, *Backup, error) {
	if len(raw) > m.opts.MaxBackupBytes {
		return nil, nil, apperror.Validation("backup of %d bytes exceeds the %d byte limit", len(raw), m.opts.MaxBackupBytes)
	}
	var backup Backup
	if err := json.Unmarshal(raw, &backup); err != nil {
		return nil, nil, apperror.Validation("backup is not valid JSON: %v", err)
	}
	if backup.Format != BackupFormat {
		return nil, nil, apperror.Validation("unknown backup format %q", backup.Format)
	}
	if backup.Version > BackupVersion || backup.Version < 1 {
		return nil, nil, apperror.Validation("unsupported backup version %d", backup.Version)
	}
	if len(backup.Payload) == 0 {
		return nil, nil, apperror.Validation("backup has no payload")
	}
	if got := checksum(backup.Payload); got != backup.Checksum {
		return nil, nil, apperror.Validation("backup checksum mismatch: expected %s, got %s", backup.Checksum, got)
	}
	data, err := mapper.NewSnapshotMapper().DecodeData(backup.Payload)
	if err != nil {
		return nil, nil, apperror.Validation("backup payload is unreadable: %v", err)
	}
	if data.Version > entity.SnapshotDataVersion {
		return nil, nil, apperror.Validation("snapshot data version %d is newer than supported", data.Version)
	}
	for _, msg := range data.Messages {
		if msg.Role != constant.MessageRoleUser && msg.Role != constant.MessageRoleAssistant && msg.Role != constant.MessageRoleSystem {
			return nil, nil, apperror.Validation("message %s has unknown role %q", msg.Id, msg.Role)
		}
	}
	for _, wc := range data.Workflows {
		if wc == nil || wc.WorkflowId == "" {
			return nil, nil, apperror.Validation("backup holds a workflow without id")
		}
	}
	return data, &backup, nil
}
