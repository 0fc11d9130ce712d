// Package snapshot creates point-in-time copies of workspace sessions,
// checks and repairs session integrity, and restores sessions from the live
// store or from snapshots.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/registry"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const module = "SNAPSHOT"

// Sessions is the part of the state aggregator the manager reads from and
// hydrates after a restore.
type Sessions interface {
	State(sessionID uuid.UUID) (*aggregator.SessionState, bool)
	Hydrate(sessionID, userID uuid.UUID, state aggregator.SessionState)
}

// ViewerConsumer is a live 3D viewer that can take restored state.
type ViewerConsumer interface {
	RestoreViewerState(ctx context.Context, state entity.ViewerState) error
	ApplyPreferences(ctx context.Context, prefs entity.UserPreference) error
}

// ChatConsumer is a live chat pane that can take a restored transcript.
type ChatConsumer interface {
	RestoreChat(ctx context.Context, sessionID uuid.UUID, messages []entity.Message) error
}

// WorkflowRestorer resumes running workflows found in a restored session.
type WorkflowRestorer interface {
	RestoreWorkflowContext(ctx context.Context, workflowID string, userID uuid.UUID) (*entity.WorkflowContext, error)
}

type Options struct {
	AutoTTL   time.Duration
	ManualTTL time.Duration
	// FallbackSearchDepth bounds how many recent checkpoints are examined
	// when falling back to a known good state.
	FallbackSearchDepth int
	// MaxBackupBytes rejects larger imports.
	MaxBackupBytes int

	Viewers   *registry.Registry[ViewerConsumer]
	Chats     *registry.Registry[ChatConsumer]
	Workflows WorkflowRestorer

	Scheduler *scheduler.Scheduler
	Tracer    trace.Tracer
	Metrics   *metrics.Metrics
	Audit     audit.Publisher
	Logger    logger.ILogger
}

type Manager struct {
	uowFactory unitofwork.RepositoryFactory
	sessions   Sessions
	opts       Options
}

func New(uowFactory unitofwork.RepositoryFactory, sessions Sessions, opts Options) *Manager {
	if opts.AutoTTL <= 0 {
		opts.AutoTTL = constant.AutoSnapshotTTL
	}
	if opts.ManualTTL <= 0 {
		opts.ManualTTL = constant.ManualSnapshotTTL
	}
	if opts.FallbackSearchDepth <= 0 {
		opts.FallbackSearchDepth = 10
	}
	if opts.MaxBackupBytes <= 0 {
		opts.MaxBackupBytes = 32 << 20
	}
	if opts.Viewers == nil {
		opts.Viewers = registry.New[ViewerConsumer]()
	}
	if opts.Chats == nil {
		opts.Chats = registry.New[ChatConsumer]()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("bioai-workspace-be/pkg/snapshot")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Manager{uowFactory: uowFactory, sessions: sessions, opts: opts}
}

func (m *Manager) Viewers() *registry.Registry[ViewerConsumer] { return m.opts.Viewers }

func (m *Manager) Chats() *registry.Registry[ChatConsumer] { return m.opts.Chats }

func (m *Manager) expiry(t entity.SnapshotType, now time.Time) *time.Time {
	var ttl time.Duration
	switch t {
	case entity.SnapshotTypeAuto:
		ttl = m.opts.AutoTTL
	case entity.SnapshotTypeManual:
		ttl = m.opts.ManualTTL
	default:
		return nil
	}
	at := now.Add(ttl)
	return &at
}

// CreateSnapshot copies the session as it stands. An open session is taken
// from memory, buffered edits included; otherwise from the store. The
// snapshot is recoverable when the stored session passes integrity checks.
func (m *Manager) CreateSnapshot(ctx context.Context, userID, sessionID uuid.UUID, snapshotType entity.SnapshotType, description string) (*entity.Snapshot, error) {
	if !snapshotType.Valid() {
		return nil, apperror.Validation("unknown snapshot type %q", snapshotType)
	}
	uow := m.uowFactory.NewUnitOfWork(ctx)
	session, err := findOwned(ctx, uow, userID, sessionID)
	if err != nil {
		return nil, err
	}

	state, open := m.sessionState(sessionID)
	if !open || state.Session.UserId != userID {
		if state, err = loadState(ctx, uow, session); err != nil {
			return nil, err
		}
	}

	report, err := m.validate(ctx, uow, session)
	if err != nil {
		return nil, err
	}

	now := m.opts.Scheduler.Now()
	snap := &entity.Snapshot{
		Id:            uuid.New(),
		UserId:        userID,
		SessionId:     sessionID,
		SnapshotType:  snapshotType,
		Timestamp:     now,
		Data:          toData(*state),
		Description:   description,
		Tags:          append([]string{}, session.Tags...),
		IsRecoverable: report.IsValid,
		ExpiresAt:     m.expiry(snapshotType, now),
	}
	if err := uow.SnapshotRepository().Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	m.opts.Metrics.ObserveSnapshot(string(snapshotType))
	m.opts.Logger.Info(module, "Snapshot created", map[string]interface{}{
		"snapshot_id":    snap.Id,
		"session_id":     sessionID,
		"type":           snapshotType,
		"size":           snap.Size,
		"is_recoverable": snap.IsRecoverable,
	})
	if m.opts.Audit != nil {
		m.opts.Audit.PublishSnapshotCreated(ctx, userID, sessionID, snap.Id, string(snapshotType), snap.Size)
	}
	return snap, nil
}

// ListSnapshots returns snapshot metadata for a session, newest first.
func (m *Manager) ListSnapshots(ctx context.Context, userID, sessionID uuid.UUID) ([]*entity.Snapshot, error) {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if _, err := findOwned(ctx, uow, userID, sessionID); err != nil {
		return nil, err
	}
	return uow.SnapshotRepository().ListMeta(ctx,
		specification.BySessionID{SessionID: sessionID},
		specification.OrderBy{Field: "timestamp", Desc: true},
	)
}

// GetSnapshot loads a snapshot with its payload.
func (m *Manager) GetSnapshot(ctx context.Context, userID, snapshotID uuid.UUID) (*entity.Snapshot, error) {
	snap, err := m.uowFactory.NewUnitOfWork(ctx).SnapshotRepository().FindOne(ctx, specification.ByID{ID: snapshotID})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperror.NotFound("snapshot %s not found", snapshotID)
	}
	if snap.UserId != userID {
		return nil, apperror.Unauthorized("snapshot %s is not owned by user %s", snapshotID, userID)
	}
	if snap.Data == nil {
		return nil, apperror.Integrity("snapshot %s has no payload", snapshotID)
	}
	return snap, nil
}

// RestoreFromSnapshot writes the snapshot back over its session in one
// transaction and reloads the in-memory copy. A session deleted since the
// snapshot was taken is recreated under its old id.
func (m *Manager) RestoreFromSnapshot(ctx context.Context, userID, snapshotID uuid.UUID) (*aggregator.SessionState, error) {
	snap, err := m.GetSnapshot(ctx, userID, snapshotID)
	if err != nil {
		return nil, err
	}

	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: snap.SessionId})
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	now := m.opts.Scheduler.Now()
	if session == nil {
		if session, err = m.recreateSession(ctx, uow, userID, snap); err != nil {
			_ = uow.Rollback()
			return nil, err
		}
	} else {
		applySessionData(session, snap.Data.Session)
		if err := uow.SessionRepository().UpdateMetadata(ctx, session); err != nil {
			_ = uow.Rollback()
			return nil, fmt.Errorf("restore session metadata: %w", err)
		}
	}

	state := fromData(snap.Data)
	if err := writeChat(ctx, uow, session.Id, state.Messages); err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	if err := writeViewer(ctx, uow, session.Id, state.Viewer); err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	if err := writeWorkflows(ctx, uow, userID, session.Id, state.Workflows); err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	revision, err := uow.SessionRepository().BumpRevision(ctx, session.Id, restoreWriter, now)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	session.Revision = revision
	session.MessageCount = len(state.Messages)
	state.Session = *session
	if m.sessions != nil {
		m.sessions.Hydrate(session.Id, userID, state)
	}

	m.opts.Logger.Info(module, "Session restored from snapshot", map[string]interface{}{
		"snapshot_id": snapshotID,
		"session_id":  session.Id,
		"messages":    len(state.Messages),
		"workflows":   len(state.Workflows),
	})
	if m.opts.Audit != nil {
		id := snapshotID
		m.opts.Audit.PublishSessionRestored(ctx, userID, session.Id, true, &id)
	}
	return &state, nil
}

func (m *Manager) sessionState(sessionID uuid.UUID) (*aggregator.SessionState, bool) {
	if m.sessions == nil {
		return nil, false
	}
	return m.sessions.State(sessionID)
}

// recreateSession brings back a deleted session under its old id with the
// metadata the snapshot recorded. It starts inactive.
func (m *Manager) recreateSession(ctx context.Context, uow unitofwork.UnitOfWork, userID uuid.UUID, snap *entity.Snapshot) (*entity.Session, error) {
	session := &entity.Session{Id: snap.SessionId, UserId: userID, LastAccessedAt: m.opts.Scheduler.Now()}
	applySessionData(session, snap.Data.Session)
	if err := uow.SessionRepository().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("recreate session: %w", err)
	}
	m.opts.Logger.Info(module, "Deleted session recreated from snapshot", map[string]interface{}{
		"session_id":  session.Id,
		"snapshot_id": snap.Id,
	})
	return session, nil
}

func findOwned(ctx context.Context, uow unitofwork.UnitOfWork, userID, sessionID uuid.UUID) (*entity.Session, error) {
	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("session %s not found", sessionID)
	}
	if session.UserId != userID {
		return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionID, userID)
	}
	return session, nil
}
