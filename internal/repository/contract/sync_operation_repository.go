package contract

import (
	"context"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"
)

// SyncOperationRepository is the durable journal of offline operations.
type SyncOperationRepository interface {
	Create(ctx context.Context, op *entity.SyncOperation) error
	Update(ctx context.Context, op *entity.SyncOperation) error
	Delete(ctx context.Context, id string) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.SyncOperation, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.SyncOperation, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}
