package contract

import (
	"context"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ViewerStateRepository interface {
	Create(ctx context.Context, state *entity.ViewerState) error
	Update(ctx context.Context, state *entity.ViewerState) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ViewerState, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ViewerState, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
}
