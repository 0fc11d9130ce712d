package unitofwork

import (
	"context"

	"bioai-workspace-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	SessionRepository() contract.SessionRepository
	MessageRepository() contract.MessageRepository
	ViewerStateRepository() contract.ViewerStateRepository
	WorkflowContextRepository() contract.WorkflowContextRepository
	SnapshotRepository() contract.SnapshotRepository
	UserPreferenceRepository() contract.UserPreferenceRepository
}
