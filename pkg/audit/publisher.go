package audit

import (
	"context"
	"time"

	"bioai-workspace-be/internal/pkg/logger"
	pkgEvents "bioai-workspace-be/pkg/events"
	pktNats "bioai-workspace-be/pkg/nats"

	"github.com/google/uuid"
)

// Publisher abstracts domain event publishing for the workspace engines.
type Publisher interface {
	PublishSessionActivated(ctx context.Context, userId, sessionId uuid.UUID)
	PublishSessionRestored(ctx context.Context, userId, sessionId uuid.UUID, success bool, fromSnapshot *uuid.UUID)
	PublishSnapshotCreated(ctx context.Context, userId, sessionId, snapshotId uuid.UUID, snapshotType string, size int64)
	PublishCleanupCompleted(ctx context.Context, userId uuid.UUID, deleted int, freedBytes int64, dryRun bool)
	PublishOperationFailed(ctx context.Context, operationId, operationType, target, lastError string, retryCount int)
	PublishIntegrityRepaired(ctx context.Context, userId, sessionId uuid.UUID, fixed []string)
	PublishWorkflowCompleted(ctx context.Context, userId, sessionId uuid.UUID, workflowId, status string, durationMs int64)
}

// NatsPublisher implements Publisher using NATS. A nil inner publisher
// turns every call into a no-op.
type NatsPublisher struct {
	publisher *pktNats.Publisher
	logger    logger.ILogger
}

func NewNatsPublisher(publisher *pktNats.Publisher, logger logger.ILogger) *NatsPublisher {
	return &NatsPublisher{
		publisher: publisher,
		logger:    logger,
	}
}

func (p *NatsPublisher) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if p == nil || p.publisher == nil {
		return
	}

	now := time.Now()
	data["occurred_at"] = now
	evt := pkgEvents.BaseEvent{Type: eventType, Data: data, OccurredAt: now}

	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.Error("AUDIT", "Failed to publish "+eventType+" event", map[string]interface{}{"error": err.Error()})
	}
}

func (p *NatsPublisher) PublishSessionActivated(ctx context.Context, userId, sessionId uuid.UUID) {
	p.publish(ctx, pkgEvents.TypeSessionActivated, map[string]interface{}{
		"user_id":     userId.String(),
		"session_id":  sessionId.String(),
		"entity_type": "session",
		"entity_id":   sessionId.String(),
	})
}

func (p *NatsPublisher) PublishSessionRestored(ctx context.Context, userId, sessionId uuid.UUID, success bool, fromSnapshot *uuid.UUID) {
	data := map[string]interface{}{
		"user_id":     userId.String(),
		"session_id":  sessionId.String(),
		"success":     success,
		"entity_type": "session",
		"entity_id":   sessionId.String(),
	}
	if fromSnapshot != nil {
		data["snapshot_id"] = fromSnapshot.String()
	}
	p.publish(ctx, pkgEvents.TypeSessionRestored, data)
}

func (p *NatsPublisher) PublishSnapshotCreated(ctx context.Context, userId, sessionId, snapshotId uuid.UUID, snapshotType string, size int64) {
	p.publish(ctx, pkgEvents.TypeSnapshotCreated, map[string]interface{}{
		"user_id":       userId.String(),
		"session_id":    sessionId.String(),
		"snapshot_id":   snapshotId.String(),
		"snapshot_type": snapshotType,
		"size":          size,
		"entity_type":   "snapshot",
		"entity_id":     snapshotId.String(),
	})
}

func (p *NatsPublisher) PublishCleanupCompleted(ctx context.Context, userId uuid.UUID, deleted int, freedBytes int64, dryRun bool) {
	p.publish(ctx, pkgEvents.TypeCleanupCompleted, map[string]interface{}{
		"user_id":       userId.String(),
		"deleted_count": deleted,
		"freed_bytes":   freedBytes,
		"dry_run":       dryRun,
		"entity_type":   "user",
		"entity_id":     userId.String(),
	})
}

func (p *NatsPublisher) PublishOperationFailed(ctx context.Context, operationId, operationType, target, lastError string, retryCount int) {
	p.publish(ctx, pkgEvents.TypeOperationFailed, map[string]interface{}{
		"operation_id":   operationId,
		"operation_type": operationType,
		"target":         target,
		"last_error":     lastError,
		"retry_count":    retryCount,
		"entity_type":    "sync_operation",
		"entity_id":      operationId,
	})
}

func (p *NatsPublisher) PublishIntegrityRepaired(ctx context.Context, userId, sessionId uuid.UUID, fixed []string) {
	p.publish(ctx, pkgEvents.TypeIntegrityRepaired, map[string]interface{}{
		"user_id":     userId.String(),
		"session_id":  sessionId.String(),
		"fixed":       fixed,
		"entity_type": "session",
		"entity_id":   sessionId.String(),
	})
}

func (p *NatsPublisher) PublishWorkflowCompleted(ctx context.Context, userId, sessionId uuid.UUID, workflowId, status string, durationMs int64) {
	p.publish(ctx, pkgEvents.TypeWorkflowCompleted, map[string]interface{}{
		"user_id":     userId.String(),
		"session_id":  sessionId.String(),
		"workflow_id": workflowId,
		"status":      status,
		"duration_ms": durationMs,
		"entity_type": "workflow",
		"entity_id":   workflowId,
	})
}
