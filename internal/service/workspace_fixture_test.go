package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/testdb"
	"bioai-workspace-be/internal/repository/implementation"
	"bioai-workspace-be/internal/repository/memory"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/connectivity"
	"bioai-workspace-be/pkg/scheduler"
	"bioai-workspace-be/pkg/syncqueue"
	"bioai-workspace-be/pkg/workflow"
	"bioai-workspace-be/pkg/workflowctx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var workspaceEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// workspace wires the real engines over in-memory databases. Drains run
// inline so a forced save has reached the store when it returns.
type workspace struct {
	clock   *scheduler.VirtualClock
	factory unitofwork.RepositoryFactory
	monitor *connectivity.Monitor
	queue   *syncqueue.Queue
	agg     *aggregator.Aggregator
	tracker *workflowctx.Tracker
	user    uuid.UUID
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	clock := scheduler.NewVirtualClock(workspaceEpoch)
	sched := scheduler.New(clock)
	factory := unitofwork.NewRepositoryFactory(testdb.Remote(t))
	monitor := connectivity.NewMonitor(true)

	applier := NewSyncApplier(factory, nil)
	queue := syncqueue.New(implementation.NewSyncOperationRepository(testdb.Journal(t)), applier, syncqueue.Options{
		Scheduler: sched,
		Monitor:   monitor,
		Dispatch:  func(fn func()) { fn() },
	})
	agg := aggregator.New(factory, queue, aggregator.Options{
		Debounce:      time.Second,
		FlushInterval: 5 * time.Second,
		Scheduler:     sched,
	})
	applier.OnApplied(func(o ApplyOutcome) { agg.OnApplied(o.SessionId, o.Revision, o.Stale) })
	queue.OnSettled(agg.OnOperationSettled)

	tracker := workflowctx.New(memory.NewWorkflowContextRepository(), agg, factory, workflowctx.Options{
		CheckpointEvery:    30 * time.Second,
		CheckpointDebounce: 2 * time.Second,
		ForceSaveActions:   50,
		Scheduler:          sched,
	})
	t.Cleanup(tracker.Close)

	return &workspace{
		clock:   clock,
		factory: factory,
		monitor: monitor,
		queue:   queue,
		agg:     agg,
		tracker: tracker,
		user:    uuid.New(),
	}
}

func (w *workspace) session(t *testing.T, title string) uuid.UUID {
	t.Helper()
	s, err := w.agg.CreateSession(context.Background(), w.user, title)
	require.NoError(t, err)
	return s.Id
}

func (w *workspace) storedMessages(t *testing.T, sessionID uuid.UUID) []*entity.Message {
	t.Helper()
	msgs, err := w.factory.NewUnitOfWork(context.Background()).MessageRepository().FindAll(context.Background(),
		specification.BySessionID{SessionID: sessionID},
		specification.OrderByTimestamp{},
	)
	require.NoError(t, err)
	return msgs
}

type engineCall struct {
	workflowType string
	params       map[string]interface{}
}

type fakeEngine struct {
	mu     sync.Mutex
	result *workflow.Result
	err    error
	calls  []engineCall
}

func (e *fakeEngine) Execute(ctx context.Context, workflowType string, params map[string]interface{}) (*workflow.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{workflowType: workflowType, params: params})
	if e.err != nil {
		return nil, e.err
	}
	out := *e.result
	return &out, nil
}
