package snapshot

import (
	"context"
	"fmt"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type IssueType string

const (
	IssueMessageCountMismatch   IssueType = "message_count_mismatch"
	IssueDuplicateViewerState   IssueType = "duplicate_viewer_state"
	IssueMultipleActiveSessions IssueType = "multiple_active_sessions"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Expected int64     `json:"expected"`
	Actual   int64     `json:"actual"`
}

type IntegrityReport struct {
	SessionId uuid.UUID `json:"session_id"`
	IsValid   bool      `json:"is_valid"`
	Issues    []Issue   `json:"issues"`
}

// HasErrors reports issues that make the session unfit to restore as is.
func (r IntegrityReport) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r IntegrityReport) Find(t IssueType) (Issue, bool) {
	for _, issue := range r.Issues {
		if issue.Type == t {
			return issue, true
		}
	}
	return Issue{}, false
}

type RepairOptions struct {
	FixMessageCount  bool `json:"fix_message_count"`
	RemoveDuplicates bool `json:"remove_duplicates"`
	FixActiveFlags   bool `json:"fix_active_flags"`
	CreateSnapshot   bool `json:"create_snapshot"`
}

type RepairResult struct {
	Fixed []string `json:"fixed"`
	// SnapshotId is the snapshot taken before any change.
	SnapshotId *uuid.UUID      `json:"snapshot_id,omitempty"`
	Report     IntegrityReport `json:"report"`
}

// ValidateIntegrity recomputes derived data of a session and compares it to
// what is cached.
func (m *Manager) ValidateIntegrity(ctx context.Context, userID, sessionID uuid.UUID) (*IntegrityReport, error) {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	session, err := findOwned(ctx, uow, userID, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := m.validate(ctx, uow, session)
	if err != nil {
		return nil, err
	}
	if !report.IsValid {
		m.opts.Logger.Warn(module, "Session integrity issues found", map[string]interface{}{
			"session_id": sessionID,
			"issues":     len(report.Issues),
		})
	}
	return report, nil
}

func (m *Manager) validate(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session) (*IntegrityReport, error) {
	report := &IntegrityReport{SessionId: session.Id, Issues: []Issue{}}

	actual, err := uow.MessageRepository().Count(ctx, specification.BySessionID{SessionID: session.Id})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if actual != int64(session.MessageCount) {
		report.Issues = append(report.Issues, Issue{
			Type:     IssueMessageCountMismatch,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("session records %d messages but %d are stored", session.MessageCount, actual),
			Expected: int64(session.MessageCount),
			Actual:   actual,
		})
	}

	viewers, err := uow.ViewerStateRepository().Count(ctx, specification.BySessionID{SessionID: session.Id})
	if err != nil {
		return nil, fmt.Errorf("count viewer states: %w", err)
	}
	if viewers > 1 {
		report.Issues = append(report.Issues, Issue{
			Type:     IssueDuplicateViewerState,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d viewer states stored for one session", viewers),
			Expected: 1,
			Actual:   viewers,
		})
	}

	active, err := uow.SessionRepository().Count(ctx,
		specification.UserOwnedBy{UserID: session.UserId},
		specification.ActiveSessions{},
	)
	if err != nil {
		return nil, fmt.Errorf("count active sessions: %w", err)
	}
	if active > 1 {
		report.Issues = append(report.Issues, Issue{
			Type:     IssueMultipleActiveSessions,
			Severity: SeverityError,
			Message:  fmt.Sprintf("user has %d active sessions", active),
			Expected: 1,
			Actual:   active,
		})
	}

	report.IsValid = len(report.Issues) == 0
	return report, nil
}

// Repair applies the selected fixes in one transaction and reports the
// state afterwards. The optional snapshot is taken before anything changes.
func (m *Manager) Repair(ctx context.Context, userID, sessionID uuid.UUID, opts RepairOptions) (*RepairResult, error) {
	result := &RepairResult{Fixed: []string{}}
	if opts.CreateSnapshot {
		snap, err := m.CreateSnapshot(ctx, userID, sessionID, entity.SnapshotTypeCheckpoint, "before integrity repair")
		if err != nil {
			return nil, fmt.Errorf("snapshot before repair: %w", err)
		}
		result.SnapshotId = &snap.Id
	}

	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	session, err := findOwned(ctx, uow, userID, sessionID)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	report, err := m.validate(ctx, uow, session)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}

	if issue, ok := report.Find(IssueMessageCountMismatch); ok && opts.FixMessageCount {
		if err := uow.SessionRepository().SetMessageCount(ctx, sessionID, int(issue.Actual)); err != nil {
			_ = uow.Rollback()
			return nil, fmt.Errorf("fix message count: %w", err)
		}
		result.Fixed = append(result.Fixed, string(IssueMessageCountMismatch))
	}

	if _, ok := report.Find(IssueDuplicateViewerState); ok && opts.RemoveDuplicates {
		states, err := uow.ViewerStateRepository().FindAll(ctx,
			specification.BySessionID{SessionID: sessionID},
			specification.OrderBy{Field: "last_saved", Desc: true},
		)
		if err != nil {
			_ = uow.Rollback()
			return nil, fmt.Errorf("load viewer states: %w", err)
		}
		for _, dup := range states[1:] {
			if err := uow.ViewerStateRepository().Delete(ctx, dup.Id); err != nil {
				_ = uow.Rollback()
				return nil, fmt.Errorf("remove duplicate viewer state: %w", err)
			}
		}
		result.Fixed = append(result.Fixed, string(IssueDuplicateViewerState))
	}

	if _, ok := report.Find(IssueMultipleActiveSessions); ok && opts.FixActiveFlags {
		keep, err := m.activeToKeep(ctx, uow, session)
		if err != nil {
			_ = uow.Rollback()
			return nil, err
		}
		if _, err := uow.SessionRepository().DeactivateOthers(ctx, userID, keep); err != nil {
			_ = uow.Rollback()
			return nil, fmt.Errorf("fix active flags: %w", err)
		}
		result.Fixed = append(result.Fixed, string(IssueMultipleActiveSessions))
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	after, err := m.ValidateIntegrity(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	result.Report = *after

	m.opts.Logger.Info(module, "Session repaired", map[string]interface{}{
		"session_id": sessionID,
		"fixed":      result.Fixed,
		"valid":      after.IsValid,
	})
	if m.opts.Audit != nil && len(result.Fixed) > 0 {
		m.opts.Audit.PublishIntegrityRepaired(ctx, userID, sessionID, result.Fixed)
	}
	return result, nil
}

// activeToKeep picks the session that stays active: the repaired one if it
// is active, otherwise the most recently accessed active session.
func (m *Manager) activeToKeep(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.Session) (uuid.UUID, error) {
	if session.IsActive {
		return session.Id, nil
	}
	latest, err := uow.SessionRepository().FindOne(ctx,
		specification.UserOwnedBy{UserID: session.UserId},
		specification.ActiveSessions{},
		specification.OrderBy{Field: "last_accessed_at", Desc: true},
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find latest active session: %w", err)
	}
	if latest == nil {
		return session.Id, nil
	}
	return latest.Id, nil
}
