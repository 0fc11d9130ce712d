package contract

import (
	"context"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
)

type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	Update(ctx context.Context, session *entity.Session) error
	// UpdateMetadata writes only title, description, tags and settings, then
	// reloads the row into session. Activity, counts and revision stay as
	// stored.
	UpdateMetadata(ctx context.Context, session *entity.Session) error
	// Activate marks the session active and stamps its access time.
	Activate(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Session, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Session, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)

	// DeactivateOthers clears is_active on every session of the user except keepId.
	DeactivateOthers(ctx context.Context, userId uuid.UUID, keepId uuid.UUID) (int64, error)
	// BumpRevision increments the write counter, records the writer and
	// stamps the access time, returning the new revision.
	BumpRevision(ctx context.Context, id uuid.UUID, writer string, at time.Time) (int64, error)
	SetMessageCount(ctx context.Context, id uuid.UUID, count int) error
}
