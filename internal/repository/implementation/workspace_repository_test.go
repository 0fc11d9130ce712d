package implementation

import (
	"context"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/testdb"
	"bioai-workspace-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryDeactivateOthers(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testdb.Remote(t))
	userId := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s := &entity.Session{UserId: userId, Title: "s", IsActive: true}
		require.NoError(t, repo.Create(ctx, s))
		ids = append(ids, s.Id)
	}
	other := &entity.Session{UserId: uuid.New(), Title: "other", IsActive: true}
	require.NoError(t, repo.Create(ctx, other))

	affected, err := repo.DeactivateOthers(ctx, userId, ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	active, err := repo.FindAll(ctx, specification.UserOwnedBy{UserID: userId}, specification.ActiveSessions{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids[1], active[0].Id)

	stillActive, err := repo.FindOne(ctx, specification.ByID{ID: other.Id})
	require.NoError(t, err)
	assert.True(t, stillActive.IsActive)
}

func TestSessionRepositoryBumpRevision(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testdb.Remote(t))
	s := &entity.Session{UserId: uuid.New(), Title: "rev"}
	require.NoError(t, repo.Create(ctx, s))

	rev, err := repo.BumpRevision(ctx, s.Id, "tab-a", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = repo.BumpRevision(ctx, s.Id, "tab-b", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	stored, err := repo.FindOne(ctx, specification.ByID{ID: s.Id})
	require.NoError(t, err)
	assert.Equal(t, "tab-b", stored.LastWriter)

	_, err = repo.BumpRevision(ctx, uuid.New(), "tab-a", time.Now().UTC())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSessionRepositoryUpdateMetadataLeavesActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testdb.Remote(t))
	userId := uuid.New()
	a := &entity.Session{UserId: userId, Title: "a", IsActive: true}
	require.NoError(t, repo.Create(ctx, a))
	b := &entity.Session{UserId: userId, Title: "b"}
	require.NoError(t, repo.Create(ctx, b))

	stale, err := repo.FindOne(ctx, specification.ByID{ID: a.Id})
	require.NoError(t, err)

	require.NoError(t, repo.Activate(ctx, b.Id, time.Now().UTC()))
	_, err = repo.DeactivateOthers(ctx, userId, b.Id)
	require.NoError(t, err)
	require.NoError(t, repo.SetMessageCount(ctx, a.Id, 4))
	_, err = repo.BumpRevision(ctx, a.Id, "tab-a", time.Now().UTC())
	require.NoError(t, err)

	desc := "notes"
	stale.Title = "a renamed"
	stale.Description = &desc
	stale.Tags = []string{"kinase"}
	stale.Settings = map[string]string{"theme": "dark"}
	require.NoError(t, repo.UpdateMetadata(ctx, stale))

	assert.False(t, stale.IsActive)
	assert.Equal(t, 4, stale.MessageCount)
	assert.Equal(t, int64(1), stale.Revision)
	assert.Equal(t, "a renamed", stale.Title)

	stored, err := repo.FindOne(ctx, specification.ByID{ID: a.Id})
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 4, stored.MessageCount)
	assert.Equal(t, []string{"kinase"}, stored.Tags)
	assert.Equal(t, "dark", stored.Settings["theme"])

	active, err := repo.Count(ctx, specification.UserOwnedBy{UserID: userId}, specification.ActiveSessions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	err = repo.UpdateMetadata(ctx, &entity.Session{Id: uuid.New(), Title: "ghost"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, repo.Activate(ctx, uuid.New(), time.Now().UTC()), apperror.ErrNotFound)
}

func TestMessageRepositoryOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(testdb.Remote(t))
	sessionId := uuid.New()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []int{3, 1, 2} {
		require.NoError(t, repo.Create(ctx, &entity.Message{
			SessionId: sessionId,
			Role:      "user",
			Content:   time.Duration(offset).String(),
			Timestamp: base.Add(time.Duration(offset) * time.Minute),
		}))
	}

	msgs, err := repo.FindAll(ctx, specification.BySessionID{SessionID: sessionId}, specification.OrderByTimestamp{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
	assert.True(t, msgs[1].Timestamp.Before(msgs[2].Timestamp))

	deleted, err := repo.DeleteBySessionId(ctx, sessionId)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestWorkflowContextRepositorySaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowContextRepository(testdb.Remote(t))
	wc := &entity.WorkflowContext{
		WorkflowId:   "wf-upsert",
		UserId:       uuid.New(),
		SessionId:    uuid.New(),
		WorkflowType: "protein_analysis",
		Status:       entity.WorkflowStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	wc.Normalize()
	require.NoError(t, repo.Save(ctx, wc))

	wc.Progress = 75
	wc.Molecular.ActiveStructures = []string{"1HHO"}
	require.NoError(t, repo.Save(ctx, wc))

	got, err := repo.FindOne(ctx, specification.ByKey{Column: "workflow_id", Key: "wf-upsert"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 75.0, got.Progress)
	assert.Equal(t, []string{"1HHO"}, got.Molecular.ActiveStructures)
}

func TestWorkflowContextRepositoryDeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowContextRepository(testdb.Remote(t))
	userId := uuid.New()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for id, status := range map[string]entity.WorkflowStatus{
		"old-done":    entity.WorkflowStatusCompleted,
		"old-running": entity.WorkflowStatusRunning,
		"new-done":    entity.WorkflowStatusFailed,
	} {
		completed := old
		if id == "new-done" {
			completed = recent
		}
		wc := &entity.WorkflowContext{WorkflowId: id, UserId: userId, SessionId: uuid.New(), Status: status, StartedAt: old}
		if status.Terminal() {
			wc.CompletedAt = &completed
		}
		require.NoError(t, repo.Save(ctx, wc))
	}

	deleted, err := repo.DeleteTerminalBefore(ctx, userId, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := repo.FindAll(ctx, specification.UserOwnedBy{UserID: userId})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestSnapshotRepositoryListMetaAndExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository(testdb.Remote(t))
	userId := uuid.New()
	sessionId := uuid.New()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, exp := range []*time.Time{&past, &future, nil} {
		require.NoError(t, repo.Create(ctx, &entity.Snapshot{
			UserId:        userId,
			SessionId:     sessionId,
			SnapshotType:  entity.SnapshotTypeAuto,
			Timestamp:     now,
			IsRecoverable: true,
			ExpiresAt:     exp,
			Data:          &entity.SnapshotData{Version: entity.SnapshotDataVersion, Session: entity.SnapshotSession{Id: sessionId, Title: "t"}},
		}))
	}

	metas, err := repo.ListMeta(ctx, specification.BySessionID{SessionID: sessionId})
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Nil(t, metas[0].Data)
	assert.Positive(t, metas[0].Size)

	full, err := repo.FindOne(ctx, specification.ByID{ID: metas[0].Id})
	require.NoError(t, err)
	require.NotNil(t, full.Data)
	assert.Equal(t, "t", full.Data.Session.Title)

	deleted, err := repo.DeleteExpired(ctx, userId, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSyncOperationRepositoryDeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncOperationRepository(testdb.Journal(t))
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	before := cutoff.Add(-time.Hour)
	after := cutoff.Add(time.Hour)

	ops := []*entity.SyncOperation{
		{Id: "01A", Status: entity.OperationCompleted, CompletedAt: &before},
		{Id: "01B", Status: entity.OperationFailed, CompletedAt: &before},
		{Id: "01C", Status: entity.OperationCompleted, CompletedAt: &after},
		{Id: "01D", Status: entity.OperationPending},
	}
	for _, op := range ops {
		op.Type = entity.OperationChatMessage
		op.Target = "t"
		op.Priority = entity.PriorityHigh
		op.Payload = []byte(`{}`)
		op.Timestamp = before
		op.NextAttemptAt = before
		require.NoError(t, repo.Create(ctx, op))
	}

	deleted, err := repo.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUserPreferenceRepositorySave(t *testing.T) {
	ctx := context.Background()
	repo := NewUserPreferenceRepository(testdb.Remote(t))
	userId := uuid.New()

	got, err := repo.FindByUserId(ctx, userId)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, &entity.UserPreference{UserId: userId, Viewer: entity.ViewerDefaults{Background: "black"}}))
	require.NoError(t, repo.Save(ctx, &entity.UserPreference{UserId: userId, Viewer: entity.ViewerDefaults{Background: "white"}}))

	got, err = repo.FindByUserId(ctx, userId)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "white", got.Viewer.Background)
}
