package workflowctx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/testdb"
	"bioai-workspace-be/internal/repository/memory"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSaver struct {
	mu     sync.Mutex
	staged []*entity.WorkflowContext
	forced int
	fail   error
}

func (s *fakeSaver) UpdateAIWorkflowState(sessionID uuid.UUID, wc *entity.WorkflowContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.staged = append(s.staged, wc.Clone())
	return nil
}

func (s *fakeSaver) ForceSave(ctx context.Context, sessionID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced++
	return nil
}

func (s *fakeSaver) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged), s.forced
}

func (s *fakeSaver) last() *entity.WorkflowContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged[len(s.staged)-1]
}

type fixture struct {
	clock   *scheduler.VirtualClock
	saver   *fakeSaver
	factory unitofwork.RepositoryFactory
	tracker *Tracker
	user    uuid.UUID
	session uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := scheduler.NewVirtualClock(epoch)
	saver := &fakeSaver{}
	factory := unitofwork.NewRepositoryFactory(testdb.Remote(t))
	tracker := New(memory.NewWorkflowContextRepository(), saver, factory, Options{
		CheckpointEvery:    30 * time.Second,
		CheckpointDebounce: 2 * time.Second,
		ForceSaveActions:   50,
		Scheduler:          scheduler.New(clock),
	})
	t.Cleanup(tracker.Close)
	return &fixture{
		clock:   clock,
		saver:   saver,
		factory: factory,
		tracker: tracker,
		user:    uuid.New(),
		session: uuid.New(),
	}
}

func (f *fixture) start(t *testing.T, id string) *entity.WorkflowContext {
	t.Helper()
	wc, err := f.tracker.InitializeWorkflow(id, f.user, f.session, "structure_analysis", 4)
	require.NoError(t, err)
	return wc
}

func TestInitializeWorkflowCheckpointsImmediately(t *testing.T) {
	f := newFixture(t)
	wc := f.start(t, "wf-1")

	assert.Equal(t, entity.WorkflowStatusRunning, wc.Status)
	assert.Equal(t, entity.WorkflowSchemaVersion, wc.SchemaVersion)
	assert.Equal(t, epoch, wc.StartedAt)
	staged, _ := f.saver.counts()
	assert.Equal(t, 1, staged)
	assert.Equal(t, 1, f.tracker.Active())

	_, err := f.tracker.InitializeWorkflow("wf-1", f.user, f.session, "structure_analysis", 4)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestIntervalCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	require.NoError(t, f.tracker.UpdateProgress("wf-1", 25, "fetch_structure"))

	f.clock.Advance(29 * time.Second)
	staged, _ := f.saver.counts()
	assert.Equal(t, 1, staged)

	f.clock.Advance(time.Second)
	staged, _ = f.saver.counts()
	assert.Equal(t, 2, staged)
	assert.Equal(t, 25.0, f.saver.last().Progress)

	f.clock.Advance(30 * time.Second)
	staged, _ = f.saver.counts()
	assert.Equal(t, 3, staged)
}

func TestMolecularContextSaveIsDebounced(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	for _, id := range []string{"1HHO", "4HHB", "2LYZ"} {
		structure := id
		require.NoError(t, f.tracker.UpdateMolecularContext("wf-1", func(mc *entity.MolecularContext) {
			mc.ActiveStructures = append(mc.ActiveStructures, structure)
		}))
		f.clock.Advance(time.Second)
	}
	staged, _ := f.saver.counts()
	assert.Equal(t, 1, staged)

	f.clock.Advance(time.Second)
	staged, _ = f.saver.counts()
	assert.Equal(t, 2, staged)
	assert.Equal(t, []string{"1HHO", "4HHB", "2LYZ"}, f.saver.last().Molecular.ActiveStructures)
}

func TestIntervalCheckpointCancelsPendingDebounce(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	f.clock.Advance(29 * time.Second)
	require.NoError(t, f.tracker.UpdateMolecularContext("wf-1", func(mc *entity.MolecularContext) {
		mc.ActiveStructures = append(mc.ActiveStructures, "1CRN")
	}))

	f.clock.Advance(time.Second)
	staged, _ := f.saver.counts()
	require.Equal(t, 2, staged)
	assert.Equal(t, []string{"1CRN"}, f.saver.last().Molecular.ActiveStructures)

	f.clock.Advance(5 * time.Second)
	staged, _ = f.saver.counts()
	assert.Equal(t, 2, staged)
}

func TestConcurrentContextUpdates(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	const workers, calls = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				structure := fmt.Sprintf("S%d-%d", w, i)
				assert.NoError(t, f.tracker.UpdateMolecularContext("wf-1", func(mc *entity.MolecularContext) {
					mc.ActiveStructures = append(mc.ActiveStructures, structure)
				}))
				assert.NoError(t, f.tracker.AddToConversationMemory("wf-1", entity.Message{Role: "user", Content: "show " + structure}, false))
				assert.NoError(t, f.tracker.RecordToolUsage("wf-1", "fetch_structure", nil, nil, time.Millisecond, true, ""))
			}
		}(w)
	}
	wg.Wait()

	wc, ok := f.tracker.Get("wf-1")
	require.True(t, ok)
	assert.Len(t, wc.Molecular.ActiveStructures, workers*calls)
	assert.Equal(t, workers*calls, wc.Tools["fetch_structure"].Invocations)
}

func TestConcurrentInitializeAcceptsOne(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tracker.InitializeWorkflow("wf-dup", f.user, f.session, "structure_analysis", 4)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if errors.Is(err, apperror.ErrValidation) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 1, f.tracker.Active())
}

func TestEveryFiftyActionsForcesSave(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	for i := 0; i < 49; i++ {
		require.NoError(t, f.tracker.RecordAction("wf-1", fmt.Sprintf("step-%d", i)))
	}
	_, forced := f.saver.counts()
	assert.Equal(t, 0, forced)

	require.NoError(t, f.tracker.RecordAction("wf-1", "step-49"))
	staged, forced := f.saver.counts()
	assert.Equal(t, 1, forced)
	assert.Equal(t, 2, staged)
	assert.Len(t, f.saver.last().Trace.CompletedActions, 50)

	for i := 50; i < 100; i++ {
		require.NoError(t, f.tracker.RecordAction("wf-1", fmt.Sprintf("step-%d", i)))
	}
	_, forced = f.saver.counts()
	assert.Equal(t, 2, forced)
}

func TestRecordActionClearsPlannedAction(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	require.NoError(t, f.tracker.PlanActions("wf-1", "fetch", "align", "render"))
	require.NoError(t, f.tracker.RecordAction("wf-1", "align"))

	wc, ok := f.tracker.Get("wf-1")
	require.True(t, ok)
	assert.Equal(t, []string{"fetch", "render"}, wc.Trace.PendingActions)
	assert.Equal(t, []string{"align"}, wc.Trace.CompletedActions)
}

func TestUpdateProgressTracksNodes(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	require.NoError(t, f.tracker.UpdateProgress("wf-1", 10, "parse"))
	require.NoError(t, f.tracker.UpdateProgress("wf-1", 20, "parse"))
	require.NoError(t, f.tracker.UpdateProgress("wf-1", 150, "render"))

	wc, _ := f.tracker.Get("wf-1")
	assert.Equal(t, 100.0, wc.Progress)
	assert.Equal(t, "render", wc.Trace.CurrentNode)
	assert.Equal(t, []string{"parse", "render"}, wc.Trace.NodeHistory)

	assert.ErrorIs(t, f.tracker.UpdateProgress("missing", 1, "x"), apperror.ErrNotFound)
}

func TestConversationMemoryWindowAndEntities(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	for i := 0; i < 25; i++ {
		require.NoError(t, f.tracker.AddToConversationMemory("wf-1", entity.Message{
			Id:      uuid.New(),
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		}, false))
	}
	require.NoError(t, f.tracker.AddToConversationMemory("wf-1", entity.Message{
		Id:      uuid.New(),
		Role:    "user",
		Content: "Compare the binding site of hemoglobin in 4HHB with 1HHO",
	}, true))
	require.NoError(t, f.tracker.AddToConversationMemory("wf-1", entity.Message{
		Id:      uuid.New(),
		Role:    "assistant",
		Content: "4HHB is deoxy hemoglobin.",
	}, true))

	wc, _ := f.tracker.Get("wf-1")
	mem := wc.Memory
	require.Len(t, mem.RecentMessages, entity.MaxRecentMessages)
	assert.Equal(t, "4HHB is deoxy hemoglobin.", mem.RecentMessages[len(mem.RecentMessages)-1].Content)

	require.Contains(t, mem.Entities, "pdb_id:4HHB")
	assert.Equal(t, 2, mem.Entities["pdb_id:4HHB"].Mentions)
	assert.Equal(t, 1, mem.Entities["pdb_id:1HHO"].Mentions)
	assert.Equal(t, 2, mem.Entities["protein:hemoglobin"].Mentions)
	assert.Equal(t, "hemoglobin", mem.Topics[len(mem.Topics)-1])
	assert.Contains(t, mem.Topics, "binding")
}

func TestToolStatistics(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	require.NoError(t, f.tracker.RecordToolUsage("wf-1", "pdb_fetch", nil, map[string]string{"id": "4HHB"}, 100*time.Millisecond, true, ""))
	require.NoError(t, f.tracker.RecordToolUsage("wf-1", "pdb_fetch", nil, nil, 300*time.Millisecond, false, "timeout"))

	wc, _ := f.tracker.Get("wf-1")
	stats := wc.Tools["pdb_fetch"]
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Invocations)
	assert.InDelta(t, 200.0, stats.AvgDurationMs, 0.001)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.Equal(t, "timeout", stats.LastError)
}

func TestToolSuccessRateUsesTrailingWindow(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")

	for i := 0; i < 10; i++ {
		require.NoError(t, f.tracker.RecordToolUsage("wf-1", "align", nil, nil, time.Millisecond, false, "bad input"))
	}
	for i := 0; i < entity.ToolSuccessWindow; i++ {
		require.NoError(t, f.tracker.RecordToolUsage("wf-1", "align", nil, nil, time.Millisecond, true, ""))
	}

	wc, _ := f.tracker.Get("wf-1")
	stats := wc.Tools["align"]
	assert.Equal(t, 60, stats.Invocations)
	assert.Len(t, stats.Results, entity.ToolSuccessWindow)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestCompleteWorkflow(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	require.NoError(t, f.tracker.RecordToolUsage("wf-1", "pdb_fetch", nil, nil, time.Millisecond, true, ""))
	f.clock.Advance(10 * time.Second)

	final, err := f.tracker.CompleteWorkflow(context.Background(), "wf-1", map[string]int{"residues": 574}, entity.WorkflowStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCompleted, final.Status)
	assert.Equal(t, 100.0, final.Progress)
	require.NotNil(t, final.CompletedAt)
	assert.JSONEq(t, `{"residues":574}`, string(final.Result))

	_, forced := f.saver.counts()
	assert.Equal(t, 1, forced)
	assert.Equal(t, entity.WorkflowStatusCompleted, f.saver.last().Status)

	_, ok := f.tracker.Get("wf-1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.clock.Pending())

	history := f.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, int64(10000), history[0].DurationMs)
	assert.Equal(t, []string{"pdb_fetch"}, history[0].ToolsInvoked)

	_, err = f.tracker.CompleteWorkflow(context.Background(), "wf-1", nil, entity.WorkflowStatusCompleted)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCompleteWorkflowRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	_, err := f.tracker.CompleteWorkflow(context.Background(), "wf-1", nil, entity.WorkflowStatusRunning)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, ok := f.tracker.Get("wf-1")
	assert.True(t, ok)
}

func TestCompleteWorkflowReportsSaveFailure(t *testing.T) {
	f := newFixture(t)
	f.start(t, "wf-1")
	f.saver.fail = errors.New("queue closed")

	final, err := f.tracker.CompleteWorkflow(context.Background(), "wf-1", nil, entity.WorkflowStatusFailed)
	require.Error(t, err)
	require.NotNil(t, final)
	assert.Len(t, f.tracker.History(), 1)
}

func TestAnalyticsSummary(t *testing.T) {
	f := newFixture(t)
	for i, status := range []entity.WorkflowStatus{entity.WorkflowStatusCompleted, entity.WorkflowStatusFailed, entity.WorkflowStatusCompleted} {
		id := fmt.Sprintf("wf-%d", i)
		f.start(t, id)
		require.NoError(t, f.tracker.RecordToolUsage(id, "pdb_fetch", nil, nil, time.Millisecond, true, ""))
		if i == 0 {
			require.NoError(t, f.tracker.RecordToolUsage(id, "align", nil, nil, time.Millisecond, true, ""))
		}
		f.clock.Advance(2 * time.Second)
		_, err := f.tracker.CompleteWorkflow(context.Background(), id, nil, status)
		require.NoError(t, err)
	}
	f.start(t, "wf-running")

	summary := f.tracker.AnalyticsSummary()
	assert.Equal(t, 3, summary.TotalWorkflows)
	assert.Equal(t, 2, summary.CompletedWorkflows)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.InDelta(t, 2000.0, summary.AvgDurationMs, 0.001)
	assert.Equal(t, 1, summary.ActiveWorkflows)
	require.Len(t, summary.PopularTools, 2)
	assert.Equal(t, ToolUsage{Tool: "pdb_fetch", Invocations: 3}, summary.PopularTools[0])
}

func TestRestoreWorkflowContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "wf-live")

	wc, err := f.tracker.RestoreWorkflowContext(ctx, "wf-live", f.user)
	require.NoError(t, err)
	require.NotNil(t, wc)

	_, err = f.tracker.RestoreWorkflowContext(ctx, "wf-live", uuid.New())
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	stored := &entity.WorkflowContext{
		WorkflowId:    "wf-stored",
		UserId:        f.user,
		SessionId:     f.session,
		SchemaVersion: entity.WorkflowSchemaVersion,
		Status:        entity.WorkflowStatusRunning,
		Progress:      40,
		StartedAt:     epoch,
		UpdatedAt:     epoch,
	}
	require.NoError(t, f.factory.NewUnitOfWork(ctx).WorkflowContextRepository().Save(ctx, stored))

	wc, err = f.tracker.RestoreWorkflowContext(ctx, "wf-stored", f.user)
	require.NoError(t, err)
	require.NotNil(t, wc)
	assert.Equal(t, 40.0, wc.Progress)
	assert.Equal(t, 2, f.tracker.Active())

	wc, err = f.tracker.RestoreWorkflowContext(ctx, "wf-unknown", f.user)
	require.NoError(t, err)
	assert.Nil(t, wc)
}
