package retention

import (
	"context"
	"fmt"
	"time"

	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
)

type RecommendationType string

const (
	RecommendStaleSessions    RecommendationType = "stale_sessions"
	RecommendEmptySessions    RecommendationType = "empty_sessions"
	RecommendExpiredSnapshots RecommendationType = "expired_snapshots"
	RecommendSessionLimit     RecommendationType = "session_limit"
)

// sessionSoftLimit is where the session count alone earns a recommendation
// when no cap is configured.
const sessionSoftLimit = 50

type Recommendation struct {
	Type           RecommendationType `json:"type"`
	Message        string             `json:"message"`
	Sessions       []uuid.UUID        `json:"sessions,omitempty"`
	EstimatedBytes int64              `json:"estimated_bytes"`
	Options        CleanupOptions     `json:"options"`
}

type StorageStats struct {
	TotalSessions      int       `json:"total_sessions"`
	ActiveSessions     int       `json:"active_sessions"`
	EmptySessions      int       `json:"empty_sessions"`
	StaleSessions      int       `json:"stale_sessions"`
	TotalMessages      int64     `json:"total_messages"`
	SnapshotCount      int64     `json:"snapshot_count"`
	ExpiredSnapshots   int64     `json:"expired_snapshots"`
	TotalSnapshotBytes int64     `json:"total_snapshot_bytes"`
	EstimatedBytes     int64     `json:"estimated_bytes"`
	OldestAccess       time.Time `json:"oldest_access"`
}

type RecommendationReport struct {
	Recommendations []Recommendation `json:"recommendations"`
	Stats           StorageStats     `json:"stats"`
}

// GetCleanupRecommendations describes what a cleanup under the default
// policy would free. It never writes.
func (m *Manager) GetCleanupRecommendations(ctx context.Context, userID uuid.UUID) (*RecommendationReport, error) {
	summaries, err := m.summarize(ctx, userID)
	if err != nil {
		return nil, err
	}
	policy := m.resolve(CleanupOptions{})
	now := m.opts.Scheduler.Now()
	cutoff := now.Add(-policy.olderThan)

	report := &RecommendationReport{Recommendations: []Recommendation{}}
	stats := &report.Stats
	stats.TotalSessions = len(summaries)

	for _, s := range summaries {
		stats.TotalMessages += s.MessageCount
		stats.TotalSnapshotBytes += s.SnapshotBytes
		stats.EstimatedBytes += s.EstimatedBytes
		if stats.OldestAccess.IsZero() || s.LastAccessedAt.Before(stats.OldestAccess) {
			stats.OldestAccess = s.LastAccessedAt
		}
		if s.IsActive {
			stats.ActiveSessions++
		}
		if s.MessageCount == 0 {
			stats.EmptySessions++
		}
		if !s.IsActive && s.LastAccessedAt.Before(cutoff) {
			stats.StaleSessions++
		}
	}

	// Both lists are exactly what a dry run with the same options reports.
	stale := Recommendation{Type: RecommendStaleSessions, Options: CleanupOptions{}}
	staleIDs := make(map[uuid.UUID]bool)
	for _, s := range m.pick(summaries, policy) {
		stale.Sessions = append(stale.Sessions, s.Id)
		stale.EstimatedBytes += s.EstimatedBytes
		staleIDs[s.Id] = true
	}
	empty := Recommendation{Type: RecommendEmptySessions, Options: CleanupOptions{RemoveEmptySessions: true}}
	for _, s := range m.pick(summaries, m.resolve(empty.Options)) {
		if staleIDs[s.Id] {
			continue
		}
		empty.Sessions = append(empty.Sessions, s.Id)
		empty.EstimatedBytes += s.EstimatedBytes
	}

	uow := m.uowFactory.NewUnitOfWork(ctx)
	if stats.SnapshotCount, err = uow.SnapshotRepository().Count(ctx, specification.UserOwnedBy{UserID: userID}); err != nil {
		return nil, fmt.Errorf("count snapshots: %w", err)
	}
	if stats.ExpiredSnapshots, err = uow.SnapshotRepository().Count(ctx,
		specification.UserOwnedBy{UserID: userID},
		specification.ExpiredAt{Now: now},
	); err != nil {
		return nil, fmt.Errorf("count expired snapshots: %w", err)
	}

	if len(stale.Sessions) > 0 {
		stale.Message = fmt.Sprintf("%d sessions were not opened in the last %d days", len(stale.Sessions), int(policy.olderThan.Hours()/24))
		report.Recommendations = append(report.Recommendations, stale)
	}
	if len(empty.Sessions) > 0 {
		empty.Message = fmt.Sprintf("%d sessions have no messages", len(empty.Sessions))
		report.Recommendations = append(report.Recommendations, empty)
	}
	if stats.ExpiredSnapshots > 0 {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Type:    RecommendExpiredSnapshots,
			Message: fmt.Sprintf("%d snapshots are past their expiry", stats.ExpiredSnapshots),
			Options: CleanupOptions{},
		})
	}
	limit := policy.keep
	if limit <= 0 {
		limit = sessionSoftLimit
	}
	if stats.TotalSessions > limit {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Type:    RecommendSessionLimit,
			Message: fmt.Sprintf("%d sessions exceed the limit of %d", stats.TotalSessions, limit),
			Options: CleanupOptions{MaxSessionsToKeep: limit},
		})
	}
	return report, nil
}
