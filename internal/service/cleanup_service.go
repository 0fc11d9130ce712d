package service

import (
	"context"

	"bioai-workspace-be/pkg/retention"

	"github.com/google/uuid"
)

type ICleanupService interface {
	Cleanup(ctx context.Context, userId uuid.UUID, opts retention.CleanupOptions) (*retention.CleanupResult, error)
	Recommendations(ctx context.Context, userId uuid.UUID) (*retention.RecommendationReport, error)
}

type cleanupService struct {
	manager *retention.Manager
}

func NewCleanupService(manager *retention.Manager) ICleanupService {
	return &cleanupService{manager: manager}
}

func (s *cleanupService) Cleanup(ctx context.Context, userId uuid.UUID, opts retention.CleanupOptions) (*retention.CleanupResult, error) {
	return s.manager.CleanupUserSessions(ctx, userId, opts)
}

func (s *cleanupService) Recommendations(ctx context.Context, userId uuid.UUID) (*retention.RecommendationReport, error) {
	return s.manager.GetCleanupRecommendations(ctx, userId)
}
