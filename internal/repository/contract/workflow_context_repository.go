package contract

import (
	"context"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
)

type WorkflowContextRepository interface {
	// Save inserts or replaces the context keyed by workflow id.
	Save(ctx context.Context, wc *entity.WorkflowContext) error
	Delete(ctx context.Context, workflowId string) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkflowContext, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkflowContext, error)
	DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
	// DeleteTerminalBefore removes finished contexts completed before the cutoff.
	DeleteTerminalBefore(ctx context.Context, userId uuid.UUID, before time.Time) (int64, error)
}
