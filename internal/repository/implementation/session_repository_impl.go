package implementation

import (
	"context"
	"errors"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/mapper"
	"bioai-workspace-be/internal/model"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/repository/contract"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WorkspaceMapper
}

func NewSessionRepository(db *gorm.DB) contract.SessionRepository {
	return &SessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewWorkspaceMapper(),
	}
}

func applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *SessionRepositoryImpl) Create(ctx context.Context, session *entity.Session) error {
	if session.Id == uuid.Nil {
		session.Id = uuid.New()
	}
	if session.LastAccessedAt.IsZero() {
		session.LastAccessedAt = time.Now()
	}
	m := r.mapper.SessionToModel(session)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*session = *r.mapper.SessionToEntity(m)
	return nil
}

func (r *SessionRepositoryImpl) Update(ctx context.Context, session *entity.Session) error {
	m := r.mapper.SessionToModel(session)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*session = *r.mapper.SessionToEntity(m)
	return nil
}

func (r *SessionRepositoryImpl) UpdateMetadata(ctx context.Context, session *entity.Session) error {
	m := r.mapper.SessionToModel(session)
	db := r.db.WithContext(ctx)
	res := db.Model(m).
		Select("title", "description", "tags", "settings", "updated_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("session %s not found", session.Id)
	}

	var stored model.Session
	if err := db.First(&stored, "id = ?", session.Id).Error; err != nil {
		return err
	}
	*session = *r.mapper.SessionToEntity(&stored)
	return nil
}

func (r *SessionRepositoryImpl) Activate(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":        true,
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("session %s not found", id)
	}
	return nil
}

func (r *SessionRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.Session{}, "id = ?", id).Error
}

func (r *SessionRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Session, error) {
	var m model.Session
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.SessionToEntity(&m), nil
}

func (r *SessionRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Session, error) {
	var models []*model.Session
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.Session, len(models))
	for i, m := range models {
		entities[i] = r.mapper.SessionToEntity(m)
	}
	return entities, nil
}

func (r *SessionRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.Session{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SessionRepositoryImpl) DeactivateOthers(ctx context.Context, userId uuid.UUID, keepId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("user_id = ? AND id <> ? AND is_active = ?", userId, keepId, true).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *SessionRepositoryImpl) BumpRevision(ctx context.Context, id uuid.UUID, writer string, at time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"revision":         gorm.Expr("revision + 1"),
			"last_writer":      writer,
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, apperror.NotFound("session %s not found", id)
	}

	var revision int64
	if err := db.Model(&model.Session{}).Where("id = ?", id).Pluck("revision", &revision).Error; err != nil {
		return 0, err
	}
	return revision, nil
}

func (r *SessionRepositoryImpl) SetMessageCount(ctx context.Context, id uuid.UUID, count int) error {
	return r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", id).
		Update("message_count", count).Error
}
