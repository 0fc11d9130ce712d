// Package retention deletes stale workspace sessions and the expired data
// that piles up around them.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
)

const module = "RETENTION"

// Journal purges settled sync operations. The offline queue implements it.
type Journal interface {
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Evicter drops deleted sessions from memory. The aggregator implements it.
type Evicter interface {
	Evict(sessionID uuid.UUID)
}

// Evicters hands every eviction to each holder in turn.
type Evicters []Evicter

func (e Evicters) Evict(sessionID uuid.UUID) {
	for _, holder := range e {
		holder.Evict(sessionID)
	}
}

// Policy is the default cleanup policy. A zero Policy means DefaultPolicy.
type Policy struct {
	OlderThanDays     int
	PreserveActive    bool
	PreserveRecent    bool
	MaxSessionsToKeep int
}

// DefaultPolicy keeps the active session and anything opened in the last
// 30 days, with no cap on the session count.
func DefaultPolicy() Policy {
	return Policy{OlderThanDays: 30, PreserveActive: true, PreserveRecent: true}
}

type Options struct {
	Policy            Policy
	JournalRetention  time.Duration
	WorkflowRetention time.Duration

	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	Audit     audit.Publisher
	Logger    logger.ILogger
}

// CleanupOptions overrides the policy per call. Nil flags and zero numbers
// fall back to the policy.
type CleanupOptions struct {
	OlderThanDays       int   `json:"older_than_days"`
	PreserveActive      *bool `json:"preserve_active,omitempty"`
	PreserveRecent      *bool `json:"preserve_recent,omitempty"`
	RemoveEmptySessions bool  `json:"remove_empty_sessions"`
	MaxSessionsToKeep   int   `json:"max_sessions_to_keep"`
	DryRun              bool  `json:"dry_run"`
}

type SessionSummary struct {
	Id             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	IsActive       bool      `json:"is_active"`
	MessageCount   int64     `json:"message_count"`
	SnapshotBytes  int64     `json:"snapshot_bytes"`
	EstimatedBytes int64     `json:"estimated_bytes"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type CleanupResult struct {
	DryRun bool `json:"dry_run"`
	// Sessions lists what was deleted, or would be on a dry run.
	Sessions         []SessionSummary `json:"sessions"`
	DeletedSessions  int              `json:"deleted_sessions"`
	DeletedMessages  int64            `json:"deleted_messages"`
	FreedBytes       int64            `json:"freed_bytes"`
	ExpiredSnapshots int64            `json:"expired_snapshots"`
	JournalEntries   int64            `json:"journal_entries"`
	Workflows        int64            `json:"workflows"`
	Errors           []string         `json:"errors"`
}

type Manager struct {
	uowFactory unitofwork.RepositoryFactory
	journal    Journal
	sessions   Evicter
	opts       Options
}

func New(uowFactory unitofwork.RepositoryFactory, journal Journal, sessions Evicter, opts Options) *Manager {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Policy.OlderThanDays <= 0 {
		opts.Policy.OlderThanDays = 30
	}
	if opts.JournalRetention <= 0 {
		opts.JournalRetention = 7 * 24 * time.Hour
	}
	if opts.WorkflowRetention <= 0 {
		opts.WorkflowRetention = 30 * 24 * time.Hour
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Manager{uowFactory: uowFactory, journal: journal, sessions: sessions, opts: opts}
}

type resolved struct {
	olderThan      time.Duration
	preserveActive bool
	preserveRecent bool
	removeEmpty    bool
	keep           int
}

func (m *Manager) resolve(o CleanupOptions) resolved {
	r := resolved{
		olderThan:      time.Duration(m.opts.Policy.OlderThanDays) * 24 * time.Hour,
		preserveActive: m.opts.Policy.PreserveActive,
		preserveRecent: m.opts.Policy.PreserveRecent,
		removeEmpty:    o.RemoveEmptySessions,
		keep:           m.opts.Policy.MaxSessionsToKeep,
	}
	if o.OlderThanDays > 0 {
		r.olderThan = time.Duration(o.OlderThanDays) * 24 * time.Hour
	}
	if o.PreserveActive != nil {
		r.preserveActive = *o.PreserveActive
	}
	if o.PreserveRecent != nil {
		r.preserveRecent = *o.PreserveRecent
	}
	if o.MaxSessionsToKeep > 0 {
		r.keep = o.MaxSessionsToKeep
	}
	return r
}

// CleanupUserSessions runs dependent cleanup and then deletes the selected
// sessions, oldest accessed first. A dry run reports the same selection
// without changing anything.
func (m *Manager) CleanupUserSessions(ctx context.Context, userID uuid.UUID, opts CleanupOptions) (*CleanupResult, error) {
	policy := m.resolve(opts)
	result := &CleanupResult{DryRun: opts.DryRun, Sessions: []SessionSummary{}, Errors: []string{}}

	if opts.DryRun {
		expired, err := m.uowFactory.NewUnitOfWork(ctx).SnapshotRepository().Count(ctx,
			specification.UserOwnedBy{UserID: userID},
			specification.ExpiredAt{Now: m.opts.Scheduler.Now()},
		)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("count expired snapshots: %v", err))
		}
		result.ExpiredSnapshots = expired
	} else {
		m.dependentCleanup(ctx, userID, result, true)
	}

	selected, err := m.selectSessions(ctx, userID, policy)
	if err != nil {
		return nil, err
	}

	for _, s := range selected {
		if opts.DryRun {
			result.Sessions = append(result.Sessions, s)
			result.FreedBytes += s.EstimatedBytes
			continue
		}
		messages, err := m.deleteSession(ctx, s.Id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete session %s: %v", s.Id, err))
			continue
		}
		if m.sessions != nil {
			m.sessions.Evict(s.Id)
		}
		result.Sessions = append(result.Sessions, s)
		result.DeletedSessions++
		result.DeletedMessages += messages
		result.FreedBytes += s.EstimatedBytes
	}

	if !opts.DryRun {
		m.opts.Metrics.ObserveCleanup(result.DeletedSessions)
	}
	m.opts.Logger.Info(module, "Session cleanup finished", map[string]interface{}{
		"user_id":           userID,
		"dry_run":           opts.DryRun,
		"sessions":          len(result.Sessions),
		"freed_bytes":       result.FreedBytes,
		"expired_snapshots": result.ExpiredSnapshots,
		"journal_entries":   result.JournalEntries,
		"workflows":         result.Workflows,
		"errors":            len(result.Errors),
	})
	if m.opts.Audit != nil {
		m.opts.Audit.PublishCleanupCompleted(ctx, userID, len(result.Sessions), result.FreedBytes, opts.DryRun)
	}
	return result, nil
}

// dependentCleanup removes expired snapshots, settled journal entries and
// old finished workflows. Each step fails on its own.
func (m *Manager) dependentCleanup(ctx context.Context, userID uuid.UUID, result *CleanupResult, purgeJournal bool) {
	now := m.opts.Scheduler.Now()
	uow := m.uowFactory.NewUnitOfWork(ctx)

	if n, err := uow.SnapshotRepository().DeleteExpired(ctx, userID, now); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("expire snapshots: %v", err))
	} else {
		result.ExpiredSnapshots = n
	}

	if purgeJournal && m.journal != nil {
		if n, err := m.journal.PurgeTerminal(ctx, m.opts.JournalRetention); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("purge journal: %v", err))
		} else {
			result.JournalEntries = n
		}
	}

	if n, err := uow.WorkflowContextRepository().DeleteTerminalBefore(ctx, userID, now.Add(-m.opts.WorkflowRetention)); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("purge workflows: %v", err))
	} else {
		result.Workflows = n
	}
}

func (m *Manager) selectSessions(ctx context.Context, userID uuid.UUID, policy resolved) ([]SessionSummary, error) {
	summaries, err := m.summarize(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.pick(summaries, policy), nil
}

// pick chooses the sessions a cleanup under policy deletes, oldest accessed
// first. Dry runs and recommendations share it.
func (m *Manager) pick(summaries []SessionSummary, policy resolved) []SessionSummary {
	cutoff := m.opts.Scheduler.Now().Add(-policy.olderThan)

	var candidates []SessionSummary
	for _, s := range summaries {
		if policy.preserveActive && s.IsActive {
			continue
		}
		stale := !policy.preserveRecent || s.LastAccessedAt.Before(cutoff)
		empty := policy.removeEmpty && s.MessageCount == 0
		if stale || empty {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastAccessedAt.Before(candidates[j].LastAccessedAt)
	})

	if policy.keep > 0 {
		limit := len(summaries) - policy.keep
		if limit < 0 {
			limit = 0
		}
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
	}
	return candidates
}

// summarize lists the user's sessions with their stored message count and
// an estimate of the bytes they hold.
func (m *Manager) summarize(ctx context.Context, userID uuid.UUID) ([]SessionSummary, error) {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	sessions, err := uow.SessionRepository().FindAll(ctx, specification.UserOwnedBy{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary, err := m.summary(ctx, uow, s)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (m *Manager) summary(ctx context.Context, uow unitofwork.UnitOfWork, s *entity.Session) (SessionSummary, error) {
	summary := SessionSummary{
		Id:             s.Id,
		Title:          s.Title,
		IsActive:       s.IsActive,
		LastAccessedAt: s.LastAccessedAt,
	}
	messages, err := uow.MessageRepository().FindAll(ctx, specification.BySessionID{SessionID: s.Id})
	if err != nil {
		return summary, fmt.Errorf("load messages of %s: %w", s.Id, err)
	}
	summary.MessageCount = int64(len(messages))
	for _, msg := range messages {
		summary.EstimatedBytes += int64(len(msg.Content))
	}
	snapshots, err := uow.SnapshotRepository().ListMeta(ctx, specification.BySessionID{SessionID: s.Id})
	if err != nil {
		return summary, fmt.Errorf("list snapshots of %s: %w", s.Id, err)
	}
	for _, snap := range snapshots {
		summary.SnapshotBytes += snap.Size
	}
	summary.EstimatedBytes += summary.SnapshotBytes
	return summary, nil
}

// deleteSession removes a session and everything stored under it in one
// transaction. It returns the number of deleted messages.
func (m *Manager) deleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return 0, err
	}
	messages, err := uow.MessageRepository().DeleteBySessionId(ctx, sessionID)
	if err == nil {
		_, err = uow.ViewerStateRepository().DeleteBySessionId(ctx, sessionID)
	}
	if err == nil {
		_, err = uow.WorkflowContextRepository().DeleteBySessionId(ctx, sessionID)
	}
	if err == nil {
		_, err = uow.SnapshotRepository().DeleteBySessionId(ctx, sessionID)
	}
	if err == nil {
		err = uow.SessionRepository().Delete(ctx, sessionID)
	}
	if err != nil {
		_ = uow.Rollback()
		return 0, err
	}
	return messages, uow.Commit()
}

// CollectGarbage runs the dependent cleanup for every user with sessions.
// Session deletion stays an explicit per user call.
func (m *Manager) CollectGarbage(ctx context.Context) error {
	sessions, err := m.uowFactory.NewUnitOfWork(ctx).SessionRepository().FindAll(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	users := make(map[uuid.UUID]bool)
	for _, s := range sessions {
		users[s.UserId] = true
	}

	var errs []error
	totals := CleanupResult{}
	if m.journal != nil {
		n, err := m.journal.PurgeTerminal(ctx, m.opts.JournalRetention)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge journal: %w", err))
		}
		totals.JournalEntries = n
	}
	for userID := range users {
		result := &CleanupResult{}
		m.dependentCleanup(ctx, userID, result, false)
		totals.ExpiredSnapshots += result.ExpiredSnapshots
		totals.Workflows += result.Workflows
		for _, e := range result.Errors {
			errs = append(errs, fmt.Errorf("user %s: %s", userID, e))
		}
	}
	m.opts.Logger.Info(module, "Garbage collection finished", map[string]interface{}{
		"users":             len(users),
		"expired_snapshots": totals.ExpiredSnapshots,
		"journal_entries":   totals.JournalEntries,
		"workflows":         totals.Workflows,
	})
	return errors.Join(errs...)
}

// Run collects garbage on every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	stop := m.opts.Scheduler.Every(interval, func() {
		if err := m.CollectGarbage(ctx); err != nil {
			m.opts.Logger.Warn(module, "Garbage collection had failures", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
	<-ctx.Done()
	stop()
}
