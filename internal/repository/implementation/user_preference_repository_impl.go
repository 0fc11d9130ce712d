package implementation

import (
	"context"
	"errors"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/mapper"
	"bioai-workspace-be/internal/model"
	"bioai-workspace-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserPreferenceRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WorkspaceMapper
}

func NewUserPreferenceRepository(db *gorm.DB) contract.UserPreferenceRepository {
	return &UserPreferenceRepositoryImpl{
		db:     db,
		mapper: mapper.NewWorkspaceMapper(),
	}
}

func (r *UserPreferenceRepositoryImpl) FindByUserId(ctx context.Context, userId uuid.UUID) (*entity.UserPreference, error) {
	var m model.UserPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userId).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.UserPreferenceToEntity(&m), nil
}

func (r *UserPreferenceRepositoryImpl) Save(ctx context.Context, pref *entity.UserPreference) error {
	m := r.mapper.UserPreferenceToModel(pref)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}
