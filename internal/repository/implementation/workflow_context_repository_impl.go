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
	"gorm.io/gorm/clause"
)

type WorkflowContextRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WorkspaceMapper
}

func NewWorkflowContextRepository(db *gorm.DB) contract.WorkflowContextRepository {
	return &WorkflowContextRepositoryImpl{
		db:     db,
		mapper: mapper.NewWorkspaceMapper(),
	}
}

func (r *WorkflowContextRepositoryImpl) Save(ctx context.Context, wc *entity.WorkflowContext) error {
	m := r.mapper.WorkflowContextToModel(wc)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func (r *WorkflowContextRepositoryImpl) Delete(ctx context.Context, workflowId string) error {
	return r.db.WithContext(ctx).Delete(&model.WorkflowContext{}, "workflow_id = ?", workflowId).Error
}

func (r *WorkflowContextRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkflowContext, error) {
	var m model.WorkflowContext
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.WorkflowContextToEntity(&m)
}

func (r *WorkflowContextRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkflowContext, error) {
	var models []*model.WorkflowContext
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.WorkflowContext, 0, len(models))
	for _, m := range models {
		wc, err := r.mapper.WorkflowContextToEntity(m)
		if err != nil {
			return nil, err
		}
		entities = append(entities, wc)
	}
	return entities, nil
}

func (r *WorkflowContextRepositoryImpl) DeleteBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&model.WorkflowContext{})
	return res.RowsAffected, res.Error
}

func (r *WorkflowContextRepositoryImpl) DeleteTerminalBefore(ctx context.Context, userId uuid.UUID, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ? AND completed_at IS NOT NULL AND completed_at < ?",
			userId, string(entity.WorkflowStatusRunning), before).
		Delete(&model.WorkflowContext{})
	return res.RowsAffected, res.Error
}
