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

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SnapshotRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SnapshotMapper
}

func NewSnapshotRepository(db *gorm.DB) contract.SnapshotRepository {
	return &SnapshotRepositoryImpl{
		db:     db,
		mapper: mapper.NewSnapshotMapper(),
	}
}

func (r *SnapshotRepositoryImpl) Create(ctx context.Context, snapshot *entity.Snapshot) error {
	if snapshot.Id == uuid.Nil {
		snapshot.Id = uuid.New()
	}
	m, err := r.mapper.SnapshotToModel(snapshot)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	snapshot.Size = m.Size
	return nil
}

func (r *SnapshotRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.Snapshot{}, "id = ?", id).Error
}

func (r *SnapshotRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Snapshot, error) {
	var m model.Snapshot
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.SnapshotToEntity(&m)
}

func (r *SnapshotRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Snapshot, error) {
	var models []*model.Snapshot
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toEntities(models)
}

func (r *SnapshotRepositoryImpl) ListMeta(ctx context.Context, specs ...specification.Specification) ([]*entity.Snapshot, error) {
	var models []*model.Snapshot
	query := applySpecifications(r.db.WithContext(ctx).Omit("data"), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toEntities(models)
}

func (r *SnapshotRepositoryImpl) toEntities(models []*model.Snapshot) ([]*entity.Snapshot, error) {
	entities := make([]*entity.Snapshot, 0, len(models))
	for _, m := range models {
		s, err := r.mapper.SnapshotToEntity(m)
		if err != nil {
			return nil, err
		}
		entities = append(entities, s)
	}
	return entities, nil
}

func (r *SnapshotRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.Snapshot{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SnapshotRepositoryImpl) DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&model.Snapshot{})
	return res.RowsAffected, res.Error
}

func (r *SnapshotRepositoryImpl) DeleteExpired(ctx context.Context, userId uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at IS NOT NULL AND expires_at <= ?", userId, now).
		Delete(&model.Snapshot{})
	return res.RowsAffected, res.Error
}
