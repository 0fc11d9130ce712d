package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/testdb"
	"bioai-workspace-be/internal/repository/contract"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applierFixture struct {
	factory unitofwork.RepositoryFactory
	applier ISyncApplier
	session *entity.Session
}

func newApplierFixture(t *testing.T) *applierFixture {
	t.Helper()
	factory := unitofwork.NewRepositoryFactory(testdb.Remote(t))
	session := &entity.Session{UserId: uuid.New(), Title: "Kinase study", IsActive: true}
	require.NoError(t, factory.NewUnitOfWork(context.Background()).SessionRepository().Create(context.Background(), session))

	applier := NewSyncApplier(factory, nil)
	applier.(*syncApplier).now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return &applierFixture{factory: factory, applier: applier, session: session}
}

func (f *applierFixture) op(t *testing.T, opType entity.OperationType, payload interface{}) *entity.SyncOperation {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	sessionId := f.session.Id
	return &entity.SyncOperation{
		Id:        ulid.Make().String(),
		Type:      opType,
		SessionId: &sessionId,
		Payload:   raw,
		Priority:  entity.PriorityHigh,
	}
}

func (f *applierFixture) reload(t *testing.T) *entity.Session {
	t.Helper()
	s, err := f.factory.NewUnitOfWork(context.Background()).SessionRepository().FindOne(context.Background(), specification.ByID{ID: f.session.Id})
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (f *applierFixture) messages(t *testing.T) []*entity.Message {
	t.Helper()
	msgs, err := f.factory.NewUnitOfWork(context.Background()).MessageRepository().FindAll(context.Background(),
		specification.BySessionID{SessionID: f.session.Id},
		specification.OrderByTimestamp{},
	)
	require.NoError(t, err)
	return msgs
}

func TestApplyChatIsIdempotent(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	op := f.op(t, entity.OperationChatMessage, entity.ChatPayload{
		UserId: f.session.UserId,
		Writer: "tab-a",
		Messages: []entity.Message{
			{Id: uuid.New(), Role: "user", Content: "Show me 1HHO", Status: entity.MessageStatusSent, Timestamp: at},
			{Id: uuid.New(), Role: "assistant", Content: "Loading hemoglobin", Status: entity.MessageStatusSent, Timestamp: at.Add(time.Second)},
		},
	})

	var outcomes []ApplyOutcome
	f.applier.OnApplied(func(o ApplyOutcome) { outcomes = append(outcomes, o) })

	require.NoError(t, f.applier.Execute(ctx, op))
	first := f.reload(t)
	assert.Equal(t, 2, first.MessageCount)
	assert.Equal(t, int64(1), first.Revision)
	assert.Equal(t, "tab-a", first.LastWriter)

	require.NoError(t, f.applier.Execute(ctx, op))
	second := f.reload(t)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, first.MessageCount, second.MessageCount)
	assert.Len(t, f.messages(t), 2)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Changed)
	assert.False(t, outcomes[1].Changed)
	assert.Equal(t, int64(1), outcomes[1].Revision)
}

func TestApplyChatKeepsSentContent(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	send := func(content string, status entity.MessageStatus) {
		require.NoError(t, f.applier.Execute(ctx, f.op(t, entity.OperationChatMessage, entity.ChatPayload{
			UserId:   f.session.UserId,
			Messages: []entity.Message{{Id: id, Role: "user", Content: content, Status: status, Timestamp: at}},
		})))
	}

	send("draft", entity.MessageStatusSending)
	send("final", entity.MessageStatusSent)
	send("edited later", entity.MessageStatusError)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "final", msgs[0].Content)
	assert.Equal(t, entity.MessageStatusError, msgs[0].Status)
}

func TestApplyViewerState(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	saved := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	state := entity.ViewerState{
		Structures: []entity.Structure{{Id: "s1", Name: "Hemoglobin", Source: "pdb", PdbId: "1HHO", Visible: true}},
		Camera:     &entity.CameraPose{Position: [3]float64{0, 0, 50}, Fov: 45, Zoom: 1},
		LastSaved:  saved,
	}
	for i := 0; i < 120; i++ {
		state.Interactions = append(state.Interactions, entity.InteractionEvent{Type: "rotate", At: saved.Add(time.Duration(i) * time.Millisecond)})
	}
	op := f.op(t, entity.OperationViewerState, entity.ViewerPayload{UserId: f.session.UserId, State: state})

	require.NoError(t, f.applier.Execute(ctx, op))
	require.NoError(t, f.applier.Execute(ctx, op))

	uow := f.factory.NewUnitOfWork(ctx)
	count, err := uow.ViewerStateRepository().Count(ctx, specification.BySessionID{SessionID: f.session.Id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := uow.ViewerStateRepository().FindOne(ctx, specification.BySessionID{SessionID: f.session.Id})
	require.NoError(t, err)
	assert.Len(t, stored.Interactions, entity.MaxInteractions)
	assert.Equal(t, "1HHO", stored.Structures[0].PdbId)
	assert.Equal(t, int64(1), f.reload(t).Revision)

	state.Camera.Zoom = 2
	state.LastSaved = saved.Add(time.Minute)
	require.NoError(t, f.applier.Execute(ctx, f.op(t, entity.OperationViewerState, entity.ViewerPayload{UserId: f.session.UserId, State: state})))

	stored, err = uow.ViewerStateRepository().FindOne(ctx, specification.BySessionID{SessionID: f.session.Id})
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.Camera.Zoom)
	assert.Equal(t, int64(2), f.reload(t).Revision)
}

func TestApplyWorkflowContext(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	wc := &entity.WorkflowContext{
		WorkflowId:   "wf-1",
		UserId:       f.session.UserId,
		WorkflowType: "structure_analysis",
		Status:       entity.WorkflowStatusRunning,
		Progress:     40,
		StartedAt:    started,
		UpdatedAt:    started.Add(time.Minute),
	}
	wc.Normalize()
	wc.Tools["pdb_search"] = &entity.ToolStats{Invocations: 2, SuccessRate: 1}
	op := f.op(t, entity.OperationWorkflowUpdate, entity.WorkflowPayload{UserId: f.session.UserId, Context: wc})

	require.NoError(t, f.applier.Execute(ctx, op))
	require.NoError(t, f.applier.Execute(ctx, op))
	assert.Equal(t, int64(1), f.reload(t).Revision)

	stored, err := f.factory.NewUnitOfWork(ctx).WorkflowContextRepository().FindOne(ctx, specification.ByKey{Column: "workflow_id", Key: "wf-1"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, f.session.Id, stored.SessionId)
	assert.Equal(t, 2, stored.Tools["pdb_search"].Invocations)

	foreign := wc.Clone()
	foreign.UserId = uuid.New()
	err = f.applier.Execute(ctx, f.op(t, entity.OperationWorkflowUpdate, entity.WorkflowPayload{UserId: f.session.UserId, Context: foreign}))
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestApplyMetadata(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	title := "Hemoglobin oxygen binding"
	desc := "allostery notes"

	op := f.op(t, entity.OperationSessionMetadata, entity.MetadataPayload{
		UserId:      f.session.UserId,
		Title:       &title,
		Description: &desc,
		Tags:        []string{"hemoglobin"},
		Settings:    map[string]string{"theme": "dark"},
	})
	require.NoError(t, f.applier.Execute(ctx, op))
	require.NoError(t, f.applier.Execute(ctx, op))

	s := f.reload(t)
	assert.Equal(t, title, s.Title)
	require.NotNil(t, s.Description)
	assert.Equal(t, desc, *s.Description)
	assert.Equal(t, []string{"hemoglobin"}, s.Tags)
	assert.Equal(t, "dark", s.Settings["theme"])
	assert.Equal(t, int64(1), s.Revision)
}

// interleavingFactory runs afterRead once, inside the applier's
// transaction, right after the first session row is read.
type interleavingFactory struct {
	unitofwork.RepositoryFactory
	afterRead func(ctx context.Context, sessions contract.SessionRepository)
}

func (f *interleavingFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &interleavingUoW{UnitOfWork: f.RepositoryFactory.NewUnitOfWork(ctx), factory: f}
}

type interleavingUoW struct {
	unitofwork.UnitOfWork
	factory *interleavingFactory
}

func (u *interleavingUoW) SessionRepository() contract.SessionRepository {
	return &interleavingSessions{SessionRepository: u.UnitOfWork.SessionRepository(), factory: u.factory}
}

type interleavingSessions struct {
	contract.SessionRepository
	factory *interleavingFactory
}

func (r *interleavingSessions) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Session, error) {
	s, err := r.SessionRepository.FindOne(ctx, specs...)
	if fn := r.factory.afterRead; fn != nil && err == nil && s != nil {
		r.factory.afterRead = nil
		fn(ctx, r.SessionRepository)
	}
	return s, err
}

func TestApplyMetadataAfterSwitchKeepsSingleActive(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	other := &entity.Session{UserId: f.session.UserId, Title: "Protease screen"}
	require.NoError(t, f.factory.NewUnitOfWork(ctx).SessionRepository().Create(ctx, other))

	interleave := &interleavingFactory{
		RepositoryFactory: f.factory,
		afterRead: func(ctx context.Context, sessions contract.SessionRepository) {
			require.NoError(t, sessions.Activate(ctx, other.Id, time.Now().UTC()))
			_, err := sessions.DeactivateOthers(ctx, f.session.UserId, other.Id)
			require.NoError(t, err)
			require.NoError(t, sessions.SetMessageCount(ctx, f.session.Id, 7))
		},
	}
	applier := NewSyncApplier(interleave, nil)

	title := "Renamed while switching"
	require.NoError(t, applier.Execute(ctx, f.op(t, entity.OperationSessionMetadata, entity.MetadataPayload{
		UserId: f.session.UserId,
		Title:  &title,
	})))
	require.Nil(t, interleave.afterRead)

	s := f.reload(t)
	assert.Equal(t, title, s.Title)
	assert.False(t, s.IsActive)
	assert.Equal(t, 7, s.MessageCount)

	active, err := f.factory.NewUnitOfWork(ctx).SessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: f.session.UserId},
		specification.ActiveSessions{},
	)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.Id, active[0].Id)
}

func TestApplyRejectsUnknownSessionAndForeignOwner(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	missing := f.op(t, entity.OperationChatMessage, entity.ChatPayload{UserId: f.session.UserId})
	other := uuid.New()
	missing.SessionId = &other
	err := f.applier.Execute(ctx, missing)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.True(t, apperror.IsTerminal(err))

	err = f.applier.Execute(ctx, f.op(t, entity.OperationChatMessage, entity.ChatPayload{UserId: uuid.New()}))
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	bad := f.op(t, entity.OperationChatMessage, nil)
	bad.Payload = json.RawMessage(`{"user_id":`)
	err = f.applier.Execute(ctx, bad)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestApplyDetectsConcurrentWriter(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	var outcomes []ApplyOutcome
	f.applier.OnApplied(func(o ApplyOutcome) { outcomes = append(outcomes, o) })

	rename := func(writer, title string, base int64) {
		require.NoError(t, f.applier.Execute(ctx, f.op(t, entity.OperationSessionMetadata, entity.MetadataPayload{
			UserId: f.session.UserId, Writer: writer, BaseRevision: base, Title: &title,
		})))
	}

	rename("tab-a", "first", 0)
	rename("tab-b", "second", 0)
	rename("tab-a", "third", 2)

	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].Stale)
	assert.True(t, outcomes[1].Stale)
	assert.False(t, outcomes[2].Stale)
	assert.Equal(t, "third", f.reload(t).Title)
}
