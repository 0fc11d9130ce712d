package mapper

import (
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/model"

	"gorm.io/datatypes"
)

type SyncOperationMapper struct{}

func NewSyncOperationMapper() *SyncOperationMapper {
	return &SyncOperationMapper{}
}

func (m *SyncOperationMapper) ToEntity(op *model.SyncOperation) *entity.SyncOperation {
	if op == nil {
		return nil
	}

	var lastError string
	if op.LastError != nil {
		lastError = *op.LastError
	}

	return &entity.SyncOperation{
		Id:            op.Id,
		Type:          entity.OperationType(op.Type),
		Target:        op.Target,
		SessionId:     op.SessionId,
		Payload:       []byte(op.Payload),
		Timestamp:     op.Timestamp,
		Priority:      entity.Priority(op.Priority),
		RetryCount:    op.RetryCount,
		MaxRetries:    op.MaxRetries,
		Status:        entity.OperationStatus(op.Status),
		LastError:     lastError,
		NextAttemptAt: op.NextAttemptAt,
		CompletedAt:   op.CompletedAt,
	}
}

func (m *SyncOperationMapper) ToModel(op *entity.SyncOperation) *model.SyncOperation {
	if op == nil {
		return nil
	}

	var lastError *string
	if op.LastError != "" {
		e := op.LastError
		lastError = &e
	}

	return &model.SyncOperation{
		Id:            op.Id,
		Type:          string(op.Type),
		Target:        op.Target,
		SessionId:     op.SessionId,
		Payload:       datatypes.JSON(op.Payload),
		Timestamp:     op.Timestamp,
		Priority:      int(op.Priority),
		RetryCount:    op.RetryCount,
		MaxRetries:    op.MaxRetries,
		Status:        string(op.Status),
		LastError:     lastError,
		NextAttemptAt: op.NextAttemptAt,
		CompletedAt:   op.CompletedAt,
	}
}
