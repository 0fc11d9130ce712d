package contract

import (
	"context"

	"bioai-workspace-be/internal/entity"

	"github.com/google/uuid"
)

type UserPreferenceRepository interface {
	FindByUserId(ctx context.Context, userId uuid.UUID) (*entity.UserPreference, error)
	Save(ctx context.Context, pref *entity.UserPreference) error
}
