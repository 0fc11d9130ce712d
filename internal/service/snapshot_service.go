package service

import (
	"context"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/pkg/snapshot"

	"github.com/google/uuid"
)

// ProgressSink receives restoration progress for a user, typically to push
// it over the status websocket.
type ProgressSink func(userId uuid.UUID, p snapshot.Progress)

type ISnapshotService interface {
	Create(ctx context.Context, userId, sessionId uuid.UUID, req *dto.CreateSnapshotRequest) (*dto.SnapshotResponse, error)
	List(ctx context.Context, userId, sessionId uuid.UUID) ([]*dto.SnapshotResponse, error)
	Restore(ctx context.Context, userId uuid.UUID, req *dto.RestoreRequest) (*snapshot.RestorationResult, error)
	Validate(ctx context.Context, userId, sessionId uuid.UUID) (*snapshot.IntegrityReport, error)
	Repair(ctx context.Context, userId, sessionId uuid.UUID, req *dto.RepairRequest) (*snapshot.RepairResult, error)
	ExportBackup(ctx context.Context, userId, snapshotId uuid.UUID) ([]byte, error)
	ImportBackup(ctx context.Context, userId uuid.UUID, raw []byte) (*dto.SnapshotResponse, error)
}

type snapshotService struct {
	manager  *snapshot.Manager
	progress ProgressSink
}

func NewSnapshotService(manager *snapshot.Manager, progress ProgressSink) ISnapshotService {
	return &snapshotService{manager: manager, progress: progress}
}

func (s *snapshotService) Create(ctx context.Context, userId, sessionId uuid.UUID, req *dto.CreateSnapshotRequest) (*dto.SnapshotResponse, error) {
	snap, err := s.manager.CreateSnapshot(ctx, userId, sessionId, req.Type, req.Description)
	if err != nil {
		return nil, err
	}
	return dto.NewSnapshotResponse(snap), nil
}

func (s *snapshotService) List(ctx context.Context, userId, sessionId uuid.UUID) ([]*dto.SnapshotResponse, error) {
	snaps, err := s.manager.ListSnapshots(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.SnapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		result = append(result, dto.NewSnapshotResponse(snap))
	}
	return result, nil
}

func (s *snapshotService) Restore(ctx context.Context, userId uuid.UUID, req *dto.RestoreRequest) (*snapshot.RestorationResult, error) {
	opts := req.Options()
	if s.progress != nil {
		opts.OnProgress = func(p snapshot.Progress) { s.progress(userId, p) }
	}
	return s.manager.RestoreSession(ctx, userId, opts)
}

func (s *snapshotService) Validate(ctx context.Context, userId, sessionId uuid.UUID) (*snapshot.IntegrityReport, error) {
	return s.manager.ValidateIntegrity(ctx, userId, sessionId)
}

func (s *snapshotService) Repair(ctx context.Context, userId, sessionId uuid.UUID, req *dto.RepairRequest) (*snapshot.RepairResult, error) {
	return s.manager.Repair(ctx, userId, sessionId, req.Options())
}

func (s *snapshotService) ExportBackup(ctx context.Context, userId, snapshotId uuid.UUID) ([]byte, error) {
	return s.manager.ExportBackup(ctx, userId, snapshotId)
}

func (s *snapshotService) ImportBackup(ctx context.Context, userId uuid.UUID, raw []byte) (*dto.SnapshotResponse, error) {
	snap, err := s.manager.ImportBackup(ctx, userId, raw)
	if err != nil {
		return nil, err
	}
	return dto.NewSnapshotResponse(snap), nil
}
