package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/testdb"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type enqueued struct {
	opType   entity.OperationType
	target   string
	payload  json.RawMessage
	priority entity.Priority
}

type fakeQueue struct {
	mu     sync.Mutex
	ops    []enqueued
	drains int
	fail   error
	hook   func()
}

func (q *fakeQueue) Enqueue(ctx context.Context, opType entity.OperationType, target string, payload interface{}, priority entity.Priority, sessionID *uuid.UUID) (string, error) {
	q.mu.Lock()
	hook, fail := q.hook, q.fail
	q.hook = nil
	q.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail != nil {
		return "", fail
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, enqueued{opType: opType, target: target, payload: raw, priority: priority})
	return uuid.NewString(), nil
}

func (q *fakeQueue) ProcessPending(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drains++
	return nil
}

func (q *fakeQueue) recorded() []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueued(nil), q.ops...)
}

type fixture struct {
	agg     *Aggregator
	queue   *fakeQueue
	clock   *scheduler.VirtualClock
	factory unitofwork.RepositoryFactory
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:   &fakeQueue{},
		clock:   scheduler.NewVirtualClock(epoch),
		factory: unitofwork.NewRepositoryFactory(testdb.Remote(t)),
		user:    uuid.New(),
	}
	f.agg = New(f.factory, f.queue, Options{
		Debounce:      time.Second,
		FlushInterval: 5 * time.Second,
		Writer:        "tab-test",
		Scheduler:     scheduler.New(f.clock),
	})
	return f
}

func (f *fixture) openSession(t *testing.T) uuid.UUID {
	t.Helper()
	s, err := f.agg.CreateSession(context.Background(), f.user, "Protein folding")
	require.NoError(t, err)
	return s.Id
}

func (f *fixture) activeCount(t *testing.T, user uuid.UUID) int64 {
	t.Helper()
	n, err := f.factory.NewUnitOfWork(context.Background()).SessionRepository().Count(context.Background(),
		specification.UserOwnedBy{UserID: user},
		specification.ActiveSessions{},
	)
	require.NoError(t, err)
	return n
}

func TestCreateSessionDemotesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := f.factory.NewUnitOfWork(ctx).SessionRepository()

	first, err := f.agg.CreateSession(ctx, f.user, "first")
	require.NoError(t, err)
	second, err := f.agg.CreateSession(ctx, f.user, "second")
	require.NoError(t, err)

	stored, err := repo.FindOne(ctx, specification.ByID{ID: first.Id})
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	stored, err = repo.FindOne(ctx, specification.ByID{ID: second.Id})
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, int64(1), f.activeCount(t, f.user))

	state, ok := f.agg.State(first.Id)
	require.True(t, ok)
	assert.False(t, state.Session.IsActive)
}

func TestCreateSessionDefaultsTitle(t *testing.T) {
	f := newFixture(t)
	s, err := f.agg.CreateSession(context.Background(), f.user, "")
	require.NoError(t, err)
	assert.Equal(t, "Untitled workspace", s.Title)
}

func TestSwitchSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.agg.CreateSession(ctx, f.user, "a")
	require.NoError(t, err)
	_, err = f.agg.CreateSession(ctx, f.user, "b")
	require.NoError(t, err)

	other, err := f.agg.CreateSession(ctx, uuid.New(), "someone else")
	require.NoError(t, err)

	f.agg.Evict(a.Id)
	state, err := f.agg.SwitchSession(ctx, f.user, a.Id)
	require.NoError(t, err)
	assert.Equal(t, a.Id, state.Session.Id)
	assert.True(t, state.Session.IsActive)
	assert.Equal(t, int64(1), f.activeCount(t, f.user))

	active, err := f.factory.NewUnitOfWork(ctx).SessionRepository().FindOne(ctx,
		specification.UserOwnedBy{UserID: f.user}, specification.ActiveSessions{})
	require.NoError(t, err)
	assert.Equal(t, a.Id, active.Id)

	_, err = f.agg.SwitchSession(ctx, f.user, other.Id)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = f.agg.SwitchSession(ctx, f.user, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDebounceCoalescesBursts(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{
			{Role: "user", Content: "step", Status: entity.MessageStatusSent},
		}}))
		f.clock.Advance(300 * time.Millisecond)
	}
	assert.Empty(t, f.queue.recorded())
	assert.Equal(t, 3, f.agg.GetPendingUpdatesCount())

	f.clock.Advance(699 * time.Millisecond)
	assert.Empty(t, f.queue.recorded())

	f.clock.Advance(time.Millisecond)
	ops := f.queue.recorded()
	require.Len(t, ops, 1)
	assert.Equal(t, entity.OperationChatMessage, ops[0].opType)
	assert.Equal(t, entity.PriorityHigh, ops[0].priority)

	var payload entity.ChatPayload
	require.NoError(t, json.Unmarshal(ops[0].payload, &payload))
	assert.Len(t, payload.Messages, 3)
	assert.Equal(t, f.user, payload.UserId)
	assert.Equal(t, "tab-test", payload.Writer)
	assert.Zero(t, f.agg.GetPendingUpdatesCount())
}

func TestIntervalBoundsStaleness(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)
	camera := entity.CameraPose{Fov: 45}

	require.NoError(t, f.agg.UpdateViewerState(id, ViewerUpdate{Camera: &camera}))
	for i := 0; i < 10; i++ {
		f.clock.Advance(500 * time.Millisecond)
		camera.Zoom = float64(i)
		require.NoError(t, f.agg.UpdateViewerState(id, ViewerUpdate{Camera: &camera}))
	}

	ops := f.queue.recorded()
	require.Len(t, ops, 1, "the interval flushes even though the debounce keeps restarting")
	assert.Equal(t, entity.OperationViewerState, ops[0].opType)
	assert.Equal(t, entity.PriorityMedium, ops[0].priority)
}

func TestFlushPrioritiesPerDomain(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)
	title := "Renamed"

	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{{Role: "user", Content: "hi"}}}))
	require.NoError(t, f.agg.UpdateInteractions(id, entity.InteractionEvent{Type: "click"}))
	require.NoError(t, f.agg.UpdateAIWorkflowState(id, &entity.WorkflowContext{WorkflowId: "wf-9", Status: entity.WorkflowStatusRunning}))
	require.NoError(t, f.agg.UpdateSessionMetadata(id, MetadataUpdate{Title: &title, Settings: map[string]string{"theme": "dark"}}))
	assert.Equal(t, 4, f.agg.GetPendingUpdatesCount())

	f.clock.Advance(time.Second)

	got := map[entity.OperationType]entity.Priority{}
	for _, op := range f.queue.recorded() {
		got[op.opType] = op.priority
	}
	assert.Equal(t, map[entity.OperationType]entity.Priority{
		entity.OperationChatMessage:     entity.PriorityHigh,
		entity.OperationViewerState:     entity.PriorityMedium,
		entity.OperationWorkflowUpdate:  entity.PriorityMedium,
		entity.OperationSessionMetadata: entity.PriorityLow,
	}, got)

	state, _ := f.agg.State(id)
	assert.Equal(t, "Renamed", state.Session.Title)
	assert.Equal(t, "dark", state.Session.Settings["theme"])
	require.Len(t, state.Workflows, 1)
	assert.Equal(t, f.user, state.Workflows[0].UserId)
}

func TestForceSaveBypassesTimers(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{{Role: "user", Content: "save me"}}}))
	require.NoError(t, f.agg.ForceSave(context.Background(), &id))

	ops := f.queue.recorded()
	require.Len(t, ops, 1)
	assert.Equal(t, entity.PriorityCritical, ops[0].priority)
	assert.Equal(t, 1, f.queue.drains)
	assert.Zero(t, f.clock.Pending(), "timers are cancelled by the flush")

	missing := uuid.New()
	assert.ErrorIs(t, f.agg.ForceSave(context.Background(), &missing), apperror.ErrNotFound)
}

func TestUpdateDuringFlushIsFlushedSeparately(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{{Role: "user", Content: "first"}}}))
	f.queue.hook = func() {
		require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{{Role: "user", Content: "second"}}}))
	}

	f.clock.Advance(time.Second)
	ops := f.queue.recorded()
	require.Len(t, ops, 1)
	var first entity.ChatPayload
	require.NoError(t, json.Unmarshal(ops[0].payload, &first))
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "first", first.Messages[0].Content)
	assert.Equal(t, 1, f.agg.GetPendingUpdatesCount())

	f.clock.Advance(time.Second)
	ops = f.queue.recorded()
	require.Len(t, ops, 2)
	var second entity.ChatPayload
	require.NoError(t, json.Unmarshal(ops[1].payload, &second))
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "second", second.Messages[0].Content)
}

func TestInteractionLogKeepsNewest(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	for i := 0; i < 130; i++ {
		require.NoError(t, f.agg.UpdateInteractions(id, entity.InteractionEvent{
			Type: "rotate",
			At:   epoch.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, f.agg.ForceSave(context.Background(), &id))

	ops := f.queue.recorded()
	require.Len(t, ops, 1)
	var payload entity.ViewerPayload
	require.NoError(t, json.Unmarshal(ops[0].payload, &payload))
	require.Len(t, payload.State.Interactions, entity.MaxInteractions)
	assert.True(t, payload.State.Interactions[0].At.Equal(epoch.Add(30*time.Second)))
}

func TestSentMessageContentStaysPut(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)
	msgID := uuid.New()

	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{
		{Id: msgID, Role: "assistant", Content: "original", Status: entity.MessageStatusSent},
	}}))
	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{
		{Id: msgID, Role: "assistant", Content: "rewritten", Status: entity.MessageStatusError},
	}}))

	state, _ := f.agg.State(id)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "original", state.Messages[0].Content)
	assert.Equal(t, entity.MessageStatusError, state.Messages[0].Status)
	assert.Equal(t, 1, state.Session.MessageCount)
}

func TestEnqueueFailureKeepsChangesBuffered(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	var statuses []Status
	f.agg.Subscribe(func(evt StatusEvent) { statuses = append(statuses, evt.Status) })

	require.NoError(t, f.agg.UpdateChatState(id, ChatUpdate{Messages: []entity.Message{{Role: "user", Content: "x"}}}))
	f.queue.fail = errors.New("journal unavailable")

	err := f.agg.ForceSave(context.Background(), &id)
	require.Error(t, err)
	assert.Equal(t, 1, f.agg.GetPendingUpdatesCount())
	assert.Equal(t, []Status{StatusSaving, StatusError}, statuses)

	f.queue.fail = nil
	require.NoError(t, f.agg.ForceSave(context.Background(), &id))
	assert.Len(t, f.queue.recorded(), 1)
	assert.Zero(t, f.agg.GetPendingUpdatesCount())
	assert.Equal(t, StatusSaved, statuses[len(statuses)-1])
}

func TestOnAppliedTracksRevisionAndStaleness(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	var events []StatusEvent
	f.agg.Subscribe(func(evt StatusEvent) { events = append(events, evt) })

	f.agg.OnApplied(id, 3, false)
	f.agg.OnApplied(id, 5, true)
	f.agg.OnApplied(id, 4, false)

	require.Len(t, events, 1)
	assert.Equal(t, StatusStale, events[0].Status)
	assert.Equal(t, int64(5), events[0].Revision)

	require.NoError(t, f.agg.UpdateSessionMetadata(id, MetadataUpdate{Tags: &[]string{"kinase"}}))
	require.NoError(t, f.agg.ForceSave(context.Background(), &id))
	var payload entity.MetadataPayload
	require.NoError(t, json.Unmarshal(f.queue.recorded()[0].payload, &payload))
	assert.Equal(t, int64(5), payload.BaseRevision)
	assert.Equal(t, []string{"kinase"}, payload.Tags)
}

func TestOperationFailureSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	var events []StatusEvent
	f.agg.Subscribe(func(evt StatusEvent) { events = append(events, evt) })

	f.agg.OnOperationSettled(entity.SyncOperation{SessionId: &id, Status: entity.OperationCompleted})
	f.agg.OnOperationSettled(entity.SyncOperation{SessionId: &id, Status: entity.OperationFailed, LastError: "store unreachable"})

	require.Len(t, events, 1)
	assert.Equal(t, StatusError, events[0].Status)
	assert.Equal(t, "store unreachable", events[0].Error)
}

func TestHydrateAndState(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	f.agg.Hydrate(id, f.user, SessionState{
		Session:  entity.Session{Title: "restored", Revision: 7},
		Messages: []entity.Message{{Id: uuid.New(), Content: "b", Timestamp: epoch.Add(time.Minute)}, {Id: uuid.New(), Content: "a", Timestamp: epoch}},
		Viewer: &entity.ViewerState{
			Structures:   []entity.Structure{{Id: "s1", PdbId: "4HHB"}},
			Interactions: []entity.InteractionEvent{{Type: "zoom", At: epoch}},
		},
	})

	state, ok := f.agg.State(id)
	require.True(t, ok)
	assert.Equal(t, id, state.Session.Id)
	assert.Equal(t, f.user, state.Session.UserId)
	assert.Equal(t, int64(7), state.Session.Revision)
	assert.Equal(t, "a", state.Messages[0].Content)
	require.NotNil(t, state.Viewer)
	assert.Len(t, state.Viewer.Interactions, 1)
	assert.Zero(t, f.agg.GetPendingUpdatesCount())

	state.Messages[0].Content = "mutated copy"
	again, _ := f.agg.State(id)
	assert.Equal(t, "a", again.Messages[0].Content)

	_, err := f.agg.Open(context.Background(), uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestUpdateUnknownSession(t *testing.T) {
	f := newFixture(t)
	err := f.agg.UpdateChatState(uuid.New(), ChatUpdate{})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCloseFlushesBufferedChanges(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	require.NoError(t, f.agg.UpdateInteractions(id, entity.InteractionEvent{Type: "select"}))
	require.NoError(t, f.agg.Close(context.Background()))

	assert.Len(t, f.queue.recorded(), 1)
	assert.Zero(t, f.clock.Pending())
}
