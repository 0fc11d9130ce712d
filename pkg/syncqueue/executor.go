package syncqueue

import (
	"context"
	"encoding/json"
	"time"

	"bioai-workspace-be/internal/entity"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Executor applies one operation to the remote store. Errors classified
// terminal by apperror are never retried.
type Executor interface {
	Execute(ctx context.Context, op *entity.SyncOperation) error
}

type ExecutorFunc func(ctx context.Context, op *entity.SyncOperation) error

func (f ExecutorFunc) Execute(ctx context.Context, op *entity.SyncOperation) error {
	return f(ctx, op)
}

// CompletedTopic carries a CompletionEvent for every completed operation.
const CompletedTopic = "sync.operation.completed"

type CompletionEvent struct {
	OperationId string               `json:"operation_id"`
	Type        entity.OperationType `json:"type"`
	Target      string               `json:"target"`
	SessionId   string               `json:"session_id,omitempty"`
	UserId      string               `json:"user_id,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

func newCompletionMessage(op *entity.SyncOperation) (*message.Message, error) {
	evt := CompletionEvent{
		OperationId: op.Id,
		Type:        op.Type,
		Target:      op.Target,
	}
	if op.SessionId != nil {
		evt.SessionId = op.SessionId.String()
	}
	if op.CompletedAt != nil {
		evt.CompletedAt = *op.CompletedAt
	}
	var owner struct {
		UserId string `json:"user_id"`
	}
	if json.Unmarshal(op.Payload, &owner) == nil {
		evt.UserId = owner.UserId
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return message.NewMessage(watermill.NewUUID(), payload), nil
}
