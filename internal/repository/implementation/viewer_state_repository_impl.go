package implementation

import (
	"context"
	"errors"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/mapper"
	"bioai-workspace-be/internal/model"
	"bioai-workspace-be/internal/repository/contract"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ViewerStateRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WorkspaceMapper
}

func NewViewerStateRepository(db *gorm.DB) contract.ViewerStateRepository {
	return &ViewerStateRepositoryImpl{
		db:     db,
		mapper: mapper.NewWorkspaceMapper(),
	}
}

func (r *ViewerStateRepositoryImpl) Create(ctx context.Context, state *entity.ViewerState) error {
	if state.Id == uuid.Nil {
		state.Id = uuid.New()
	}
	m := r.mapper.ViewerStateToModel(state)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*state = *r.mapper.ViewerStateToEntity(m)
	return nil
}

func (r *ViewerStateRepositoryImpl) Update(ctx context.Context, state *entity.ViewerState) error {
	m := r.mapper.ViewerStateToModel(state)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*state = *r.mapper.ViewerStateToEntity(m)
	return nil
}

func (r *ViewerStateRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.ViewerState{}, "id = ?", id).Error
}

func (r *ViewerStateRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ViewerState, error) {
	var m model.ViewerState
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ViewerStateToEntity(&m), nil
}

func (r *ViewerStateRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ViewerState, error) {
	var models []*model.ViewerState
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.ViewerState, len(models))
	for i, m := range models {
		entities[i] = r.mapper.ViewerStateToEntity(m)
	}
	return entities, nil
}

func (r *ViewerStateRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.ViewerState{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ViewerStateRepositoryImpl) DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&model.ViewerState{})
	return res.RowsAffected, res.Error
}
