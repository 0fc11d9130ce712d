package implementation

import (
	"context"
	"errors"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/mapper"
	"bioai-workspace-be/internal/model"
	"bioai-workspace-be/internal/repository/contract"
	"bioai-workspace-be/internal/repository/specification"

	"gorm.io/gorm"
)

type SyncOperationRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SyncOperationMapper
}

// NewSyncOperationRepository expects the local journal database, not the
// remote store.
func NewSyncOperationRepository(db *gorm.DB) contract.SyncOperationRepository {
	return &SyncOperationRepositoryImpl{
		db:     db,
		mapper: mapper.NewSyncOperationMapper(),
	}
}

func (r *SyncOperationRepositoryImpl) Create(ctx context.Context, op *entity.SyncOperation) error {
	return r.db.WithContext(ctx).Create(r.mapper.ToModel(op)).Error
}

func (r *SyncOperationRepositoryImpl) Update(ctx context.Context, op *entity.SyncOperation) error {
	return r.db.WithContext(ctx).Save(r.mapper.ToModel(op)).Error
}

func (r *SyncOperationRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.SyncOperation{}, "id = ?", id).Error
}

func (r *SyncOperationRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.SyncOperation, error) {
	var m model.SyncOperation
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *SyncOperationRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.SyncOperation, error) {
	var models []*model.SyncOperation
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.SyncOperation, len(models))
	for i, m := range models {
		entities[i] = r.mapper.ToEntity(m)
	}
	return entities, nil
}

func (r *SyncOperationRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.SyncOperation{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SyncOperationRepositoryImpl) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?",
			[]string{string(entity.OperationCompleted), string(entity.OperationFailed)}, before).
		Delete(&model.SyncOperation{})
	return res.RowsAffected, res.Error
}
