package snapshot

import (
	"context"
	"errors"
	"fmt"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/pkg/aggregator"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Phase string

const (
	PhaseInitialize     Phase = "initialize"
	PhaseIntegrityCheck Phase = "integrity-check"
	PhasePreSnapshot    Phase = "pre-snapshot"
	PhaseChat           Phase = "chat"
	PhaseViewer         Phase = "viewer"
	PhaseAIWorkflow     Phase = "ai-workflow"
	PhasePreferences    Phase = "preferences"
	PhaseFinalize       Phase = "finalize"
)

// phaseProgress is the progress reported once a phase has run.
var phaseProgress = map[Phase]int{
	PhaseInitialize:     10,
	PhaseIntegrityCheck: 25,
	PhasePreSnapshot:    35,
	PhaseChat:           55,
	PhaseViewer:         70,
	PhaseAIWorkflow:     85,
	PhasePreferences:    95,
	PhaseFinalize:       100,
}

type Progress struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

type RestoreOptions struct {
	// SessionId defaults to the user's active session, then to the most
	// recently accessed one.
	SessionId *uuid.UUID `json:"session_id,omitempty"`
	// SnapshotId restores the session from this snapshot instead of the
	// live store.
	SnapshotId           *uuid.UUID `json:"snapshot_id,omitempty"`
	ValidateIntegrity    bool       `json:"validate_integrity"`
	CreatePreSnapshot    bool       `json:"create_pre_snapshot"`
	FallbackToCheckpoint bool       `json:"fallback_to_checkpoint"`

	OnProgress func(Progress) `json:"-"`
}

type Restored struct {
	Chat        bool `json:"chat"`
	Viewer      bool `json:"viewer"`
	AIWorkflow  bool `json:"ai_workflow"`
	Preferences bool `json:"preferences"`
}

type PhaseError struct {
	Phase   Phase  `json:"phase"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type RestorationResult struct {
	SessionId uuid.UUID `json:"session_id"`
	// FallbackSnapshotId is set when the session was rebuilt from a
	// checkpoint into a new session.
	FallbackSnapshotId *uuid.UUID       `json:"fallback_snapshot_id,omitempty"`
	PreSnapshotId      *uuid.UUID       `json:"pre_snapshot_id,omitempty"`
	Restored           Restored         `json:"restored"`
	Integrity          *IntegrityReport `json:"integrity,omitempty"`
	Errors             []PhaseError     `json:"errors"`
	Warnings           []PhaseError     `json:"warnings"`
	Progress           int              `json:"progress"`
}

// restoration carries what the phases hand to each other.
type restoration struct {
	userID  uuid.UUID
	session *entity.Session
	source  *entity.Snapshot
	state   aggregator.SessionState
	result  *RestorationResult
}

// RestoreSession runs the restoration phases in order. Only a failure to
// resolve the session aborts; later phases record their failures and the
// result tells which domains came back.
func (m *Manager) RestoreSession(ctx context.Context, userID uuid.UUID, opts RestoreOptions) (*RestorationResult, error) {
	ctx, span := m.opts.Tracer.Start(ctx, "snapshot.RestoreSession")
	defer span.End()

	r := &restoration{
		userID: userID,
		result: &RestorationResult{Errors: []PhaseError{}, Warnings: []PhaseError{}},
	}
	report := func(p Phase, msg string) {
		r.result.Progress = phaseProgress[p]
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Phase: p, Percent: phaseProgress[p], Message: msg})
		}
	}
	if opts.OnProgress != nil {
		opts.OnProgress(Progress{Phase: PhaseInitialize, Percent: 0})
	}

	if err := m.phase(ctx, PhaseInitialize, func(ctx context.Context) error {
		return m.initialize(ctx, r, opts)
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.result.SessionId = r.session.Id
	report(PhaseInitialize, r.session.Title)

	if opts.ValidateIntegrity {
		m.run(ctx, r, PhaseIntegrityCheck, func(ctx context.Context) error {
			return m.checkIntegrity(ctx, r, opts)
		})
	}
	report(PhaseIntegrityCheck, "")

	if opts.CreatePreSnapshot && r.result.FallbackSnapshotId == nil {
		m.run(ctx, r, PhasePreSnapshot, func(ctx context.Context) error {
			snap, err := m.CreateSnapshot(ctx, userID, r.session.Id, entity.SnapshotTypeCheckpoint, "before restore")
			if err != nil {
				return err
			}
			r.result.PreSnapshotId = &snap.Id
			return nil
		})
	}
	report(PhasePreSnapshot, "")

	m.run(ctx, r, PhaseChat, func(ctx context.Context) error { return m.restoreChat(ctx, r) })
	report(PhaseChat, "")
	m.run(ctx, r, PhaseViewer, func(ctx context.Context) error { return m.restoreViewer(ctx, r) })
	report(PhaseViewer, "")
	m.run(ctx, r, PhaseAIWorkflow, func(ctx context.Context) error { return m.restoreWorkflows(ctx, r) })
	report(PhaseAIWorkflow, "")
	m.run(ctx, r, PhasePreferences, func(ctx context.Context) error { return m.restorePreferences(ctx, r) })
	report(PhasePreferences, "")
	m.run(ctx, r, PhaseFinalize, func(ctx context.Context) error { return m.finalize(ctx, r) })
	report(PhaseFinalize, "")

	success := len(r.result.Errors) == 0
	span.SetAttributes(
		attribute.String("session.id", r.session.Id.String()),
		attribute.Bool("restore.success", success),
	)
	m.opts.Logger.Info(module, "Session restoration finished", map[string]interface{}{
		"session_id": r.session.Id,
		"restored":   r.result.Restored,
		"errors":     len(r.result.Errors),
		"warnings":   len(r.result.Warnings),
	})
	if m.opts.Audit != nil {
		m.opts.Audit.PublishSessionRestored(ctx, userID, r.session.Id, success, r.result.FallbackSnapshotId)
	}
	return r.result, nil
}

// phase runs fn inside its own span.
func (m *Manager) phase(ctx context.Context, p Phase, fn func(ctx context.Context) error) error {
	ctx, span := m.opts.Tracer.Start(ctx, "snapshot.phase."+string(p))
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// run isolates a phase failure. Missing consumers count as warnings.
func (m *Manager) run(ctx context.Context, r *restoration, p Phase, fn func(ctx context.Context) error) {
	err := m.phase(ctx, p, fn)
	if err == nil {
		return
	}
	entry := PhaseError{Phase: p, Kind: string(apperror.KindOf(err)), Message: err.Error()}
	switch apperror.KindOf(err) {
	case apperror.KindPluginUnavailable, apperror.KindIntegrity:
		r.result.Warnings = append(r.result.Warnings, entry)
	default:
		r.result.Errors = append(r.result.Errors, entry)
		m.opts.Metrics.ObserveRestoreFailure(string(p))
	}
	m.opts.Logger.Warn(module, "Restoration phase failed", map[string]interface{}{
		"phase":      p,
		"session_id": r.session.Id,
		"error":      err.Error(),
	})
}

func (m *Manager) initialize(ctx context.Context, r *restoration, opts RestoreOptions) error {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if opts.SnapshotId != nil {
		snap, err := m.GetSnapshot(ctx, r.userID, *opts.SnapshotId)
		if err != nil {
			return err
		}
		r.source = snap
		if opts.SessionId == nil {
			id := snap.SessionId
			opts.SessionId = &id
		}
	}

	if opts.SessionId != nil {
		session, err := findOwned(ctx, uow, r.userID, *opts.SessionId)
		if errors.Is(err, apperror.ErrNotFound) && r.source != nil && r.source.SessionId == *opts.SessionId {
			session, err = m.recreateSession(ctx, uow, r.userID, r.source)
		}
		if err != nil {
			return err
		}
		r.session = session
		return nil
	}

	session, err := uow.SessionRepository().FindOne(ctx,
		specification.UserOwnedBy{UserID: r.userID},
		specification.OrderBy{Field: "is_active", Desc: true},
		specification.OrderBy{Field: "last_accessed_at", Desc: true},
	)
	if err != nil {
		return err
	}
	if session == nil {
		return apperror.NotFound("user %s has no sessions", r.userID)
	}
	r.session = session
	return nil
}

// checkIntegrity validates the target session. Error level issues with
// fallback requested switch the target to a new session rebuilt from the
// latest recoverable checkpoint; the damaged session is left as is.
func (m *Manager) checkIntegrity(ctx context.Context, r *restoration, opts RestoreOptions) error {
	report, err := m.validate(ctx, m.uowFactory.NewUnitOfWork(ctx), r.session)
	if err != nil {
		return err
	}
	r.result.Integrity = report
	for _, issue := range report.Issues {
		r.result.Warnings = append(r.result.Warnings, PhaseError{
			Phase:   PhaseIntegrityCheck,
			Kind:    string(issue.Type),
			Message: issue.Message,
		})
	}
	if !report.HasErrors() || !opts.FallbackToCheckpoint {
		return nil
	}

	checkpoint, err := m.latestCheckpoint(ctx, r.userID, r.session.Id)
	if err != nil {
		return err
	}
	if checkpoint == nil {
		return apperror.Integrity("session %s is damaged and has no recoverable checkpoint", r.session.Id)
	}

	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	state, err := materialize(ctx, uow, r.userID, checkpoint.Data, r.session.Title+" (recovered)", m.opts.Scheduler.Now())
	if err != nil {
		_ = uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	m.opts.Logger.Warn(module, "Damaged session recovered from checkpoint", map[string]interface{}{
		"damaged_session_id": r.session.Id,
		"new_session_id":     state.Session.Id,
		"snapshot_id":        checkpoint.Id,
	})
	session := state.Session
	r.session = &session
	r.source = nil
	r.result.SessionId = session.Id
	id := checkpoint.Id
	r.result.FallbackSnapshotId = &id
	return nil
}

func (m *Manager) latestCheckpoint(ctx context.Context, userID, sessionID uuid.UUID) (*entity.Snapshot, error) {
	candidates, err := m.uowFactory.NewUnitOfWork(ctx).SnapshotRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userID},
		specification.BySessionID{SessionID: sessionID},
		specification.SnapshotOfType{Type: string(entity.SnapshotTypeCheckpoint)},
		specification.OrderBy{Field: "timestamp", Desc: true},
		specification.Pagination{Limit: m.opts.FallbackSearchDepth},
	)
	if err != nil {
		return nil, fmt.Errorf("search checkpoints: %w", err)
	}
	for _, snap := range candidates {
		if snap.IsRecoverable && snap.Data != nil {
			return snap, nil
		}
	}
	return nil, nil
}

// restoreChat loads the transcript, writing the snapshot copy over the store
// first when restoring from a snapshot, and hands it to the chat pane.
func (m *Manager) restoreChat(ctx context.Context, r *restoration) error {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if r.source != nil {
		msgs := fromData(r.source.Data).Messages
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		if err := writeChat(ctx, uow, r.session.Id, msgs); err != nil {
			_ = uow.Rollback()
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}
		r.state.Messages = msgs
	} else {
		msgs, err := uow.MessageRepository().FindAll(ctx,
			specification.BySessionID{SessionID: r.session.Id},
			specification.OrderByTimestamp{},
		)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		r.state.Messages = make([]entity.Message, 0, len(msgs))
		for _, msg := range msgs {
			r.state.Messages = append(r.state.Messages, *msg)
		}
	}
	r.result.Restored.Chat = true

	chat, _, ok := m.opts.Chats.Latest()
	if !ok {
		return apperror.PluginUnavailable("no chat consumer registered")
	}
	return chat.RestoreChat(ctx, r.session.Id, r.state.Messages)
}

func (m *Manager) restoreViewer(ctx context.Context, r *restoration) error {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if r.source != nil {
		viewer := fromData(r.source.Data).Viewer
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		if err := writeViewer(ctx, uow, r.session.Id, viewer); err != nil {
			_ = uow.Rollback()
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}
		r.state.Viewer = viewer
	} else {
		viewer, err := uow.ViewerStateRepository().FindOne(ctx,
			specification.BySessionID{SessionID: r.session.Id},
			specification.OrderBy{Field: "last_saved", Desc: true},
		)
		if err != nil {
			return fmt.Errorf("load viewer state: %w", err)
		}
		r.state.Viewer = viewer
	}
	r.result.Restored.Viewer = true
	if r.state.Viewer == nil {
		return nil
	}

	viewer, _, ok := m.opts.Viewers.Latest()
	if !ok {
		return apperror.PluginUnavailable("no viewer consumer registered")
	}
	return viewer.RestoreViewerState(ctx, *r.state.Viewer)
}

// restoreWorkflows loads workflow contexts and resumes the running ones.
func (m *Manager) restoreWorkflows(ctx context.Context, r *restoration) error {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if r.source != nil {
		workflows := fromData(r.source.Data).Workflows
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		if err := writeWorkflows(ctx, uow, r.userID, r.session.Id, workflows); err != nil {
			_ = uow.Rollback()
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}
		r.state.Workflows = workflows
	} else {
		workflows, err := uow.WorkflowContextRepository().FindAll(ctx,
			specification.BySessionID{SessionID: r.session.Id},
			specification.OrderBy{Field: "started_at"},
		)
		if err != nil {
			return fmt.Errorf("load workflow contexts: %w", err)
		}
		r.state.Workflows = workflows
	}
	r.result.Restored.AIWorkflow = true

	if m.opts.Workflows == nil {
		return nil
	}
	for _, wc := range r.state.Workflows {
		if wc.Status != entity.WorkflowStatusRunning {
			continue
		}
		if _, err := m.opts.Workflows.RestoreWorkflowContext(ctx, wc.WorkflowId, r.userID); err != nil {
			return fmt.Errorf("resume workflow %s: %w", wc.WorkflowId, err)
		}
	}
	return nil
}

// restorePreferences applies the user's viewer and chat defaults. A user
// without stored preferences gets the defaults.
func (m *Manager) restorePreferences(ctx context.Context, r *restoration) error {
	prefs, err := m.uowFactory.NewUnitOfWork(ctx).UserPreferenceRepository().FindByUserId(ctx, r.userID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if prefs == nil {
		prefs = &entity.UserPreference{UserId: r.userID}
	}
	r.result.Restored.Preferences = true

	viewer, _, ok := m.opts.Viewers.Latest()
	if !ok {
		return apperror.PluginUnavailable("no viewer consumer registered")
	}
	return viewer.ApplyPreferences(ctx, *prefs)
}

// finalize stamps the session and hands the assembled state to the
// aggregator.
func (m *Manager) finalize(ctx context.Context, r *restoration) error {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: r.session.Id})
	if err != nil {
		return err
	}
	if session == nil {
		return apperror.NotFound("session %s not found", r.session.Id)
	}
	if r.source != nil {
		applySessionData(session, r.source.Data.Session)
		if err := uow.SessionRepository().UpdateMetadata(ctx, session); err != nil {
			return fmt.Errorf("restore session metadata: %w", err)
		}
		revision, err := uow.SessionRepository().BumpRevision(ctx, session.Id, restoreWriter, m.opts.Scheduler.Now())
		if err != nil {
			return err
		}
		session.Revision = revision
	}

	r.state.Session = *session
	r.state.Session.MessageCount = len(r.state.Messages)
	if m.sessions != nil {
		m.sessions.Hydrate(session.Id, r.userID, r.state)
	}
	return nil
}
