package contract

import (
	"context"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
)

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *entity.Snapshot) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Snapshot, error)
	// FindAll loads rows with their payload decoded; ListMeta skips the payload.
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Snapshot, error)
	ListMeta(ctx context.Context, specs ...specification.Specification) ([]*entity.Snapshot, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, userId uuid.UUID, now time.Time) (int64, error)
}
