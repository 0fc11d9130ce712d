package service

import (
	"context"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/connectivity"
	"bioai-workspace-be/pkg/syncqueue"

	"github.com/google/uuid"
)

const syncModule = "SYNC_SERVICE"

type ISyncService interface {
	Status(ctx context.Context, userId uuid.UUID) (*dto.SyncStatusResponse, error)
	Retry(ctx context.Context, userId uuid.UUID) (*dto.RetryResponse, error)
	Cancel(ctx context.Context, userId uuid.UUID, operationId string) error
	Connectivity(ctx context.Context, userId uuid.UUID, req *dto.ConnectivityRequest) (*dto.SyncStatusResponse, error)
}

type syncService struct {
	uowFactory unitofwork.RepositoryFactory
	queue      *syncqueue.Queue
	aggregator *aggregator.Aggregator
	monitor    *connectivity.Monitor
	logger     logger.ILogger
}

func NewSyncService(uowFactory unitofwork.RepositoryFactory, queue *syncqueue.Queue, agg *aggregator.Aggregator, monitor *connectivity.Monitor, log logger.ILogger) ISyncService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &syncService{uowFactory: uowFactory, queue: queue, aggregator: agg, monitor: monitor, logger: log}
}

func (s *syncService) Status(ctx context.Context, userId uuid.UUID) (*dto.SyncStatusResponse, error) {
	stats, err := s.queue.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.SyncStatusResponse{
		Queue:          stats,
		PendingUpdates: s.aggregator.GetPendingUpdatesCount(),
		Online:         s.monitor.Online(),
		Visible:        s.monitor.Visible(),
	}, nil
}

func (s *syncService) Retry(ctx context.Context, userId uuid.UUID) (*dto.RetryResponse, error) {
	n, err := s.queue.RetryFailed(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info(syncModule, "Failed operations requeued", map[string]interface{}{
		"user_id":  userId,
		"requeued": n,
	})
	if n > 0 && s.monitor.Online() {
		if err := s.queue.ProcessPending(ctx); err != nil {
			s.logger.Warn(syncModule, "Drain after retry failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return &dto.RetryResponse{Requeued: n}, nil
}

// Cancel drops a pending operation of one of the user's sessions.
func (s *syncService) Cancel(ctx context.Context, userId uuid.UUID, operationId string) error {
	op, ok := s.queue.Get(operationId)
	if !ok {
		return apperror.NotFound("operation %s is not queued", operationId)
	}
	if op.SessionId != nil {
		session, err := s.uowFactory.NewUnitOfWork(ctx).SessionRepository().FindOne(ctx, specification.ByID{ID: *op.SessionId})
		if err != nil {
			return err
		}
		if session != nil && session.UserId != userId {
			return apperror.Unauthorized("operation %s belongs to another user", operationId)
		}
	}
	if !s.queue.Cancel(ctx, operationId) {
		return apperror.Validation("operation %s is already %s", operationId, op.Status)
	}
	return nil
}

func (s *syncService) Connectivity(ctx context.Context, userId uuid.UUID, req *dto.ConnectivityRequest) (*dto.SyncStatusResponse, error) {
	if req.Online != nil {
		s.monitor.SetOnline(*req.Online)
	}
	if req.Visible != nil {
		s.monitor.SetVisible(*req.Visible)
	}
	return s.Status(ctx, userId)
}
