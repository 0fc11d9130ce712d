// Package aggregator keeps the in-memory copy of every open workspace
// session, merges partial updates into it and turns dirty state into sync
// operations on a debounce and interval schedule.
package aggregator

import (
	"context"
	"sync"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/ringbuf"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const module = "AGGREGATOR"

type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
	// StatusStale means another writer committed changes to the session
	// since this process last saw it. Last write wins.
	StatusStale Status = "stale"
)

type StatusEvent struct {
	SessionId      uuid.UUID `json:"session_id"`
	UserId         uuid.UUID `json:"user_id"`
	Status         Status    `json:"status"`
	PendingUpdates int       `json:"pending_updates"`
	Revision       int64     `json:"revision,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Queue is the part of the offline queue the aggregator produces into.
type Queue interface {
	Enqueue(ctx context.Context, opType entity.OperationType, target string, payload interface{}, priority entity.Priority, sessionID *uuid.UUID) (string, error)
	ProcessPending(ctx context.Context) error
}

// SessionState is a full copy of one session as held in memory. The viewer
// state carries the interaction log.
type SessionState struct {
	Session   entity.Session            `json:"session"`
	Messages  []entity.Message          `json:"messages"`
	Viewer    *entity.ViewerState       `json:"viewer,omitempty"`
	Workflows []*entity.WorkflowContext `json:"workflows,omitempty"`
}

type Options struct {
	Debounce      time.Duration
	FlushInterval time.Duration
	// Writer identifies this aggregator in applied revisions. Defaults to a
	// fresh ULID.
	Writer string

	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	Audit     audit.Publisher
	Logger    logger.ILogger
}

type Aggregator struct {
	uowFactory unitofwork.RepositoryFactory
	queue      Queue
	opts       Options

	mu       sync.Mutex
	sessions map[uuid.UUID]*buffer

	subMu   sync.Mutex
	subs    map[int]func(StatusEvent)
	nextSub int
}

type buffer struct {
	userID       uuid.UUID
	session      entity.Session
	messages     []entity.Message
	viewer       *entity.ViewerState
	interactions *ringbuf.Buffer[entity.InteractionEvent]
	workflows    map[string]*entity.WorkflowContext

	dirtyMessages  map[uuid.UUID]bool
	dirtyViewer    bool
	dirtyWorkflows map[string]bool
	meta           *entity.MetadataPayload

	revision int64
	debounce scheduler.Cancel
	interval scheduler.Cancel

	flushing       bool
	followUp       bool
	forcedFollowUp bool
	flushDone      chan struct{}
}

func newBuffer(userID uuid.UUID) *buffer {
	return &buffer{
		userID:         userID,
		interactions:   ringbuf.New[entity.InteractionEvent](entity.MaxInteractions),
		workflows:      make(map[string]*entity.WorkflowContext),
		dirtyMessages:  make(map[uuid.UUID]bool),
		dirtyWorkflows: make(map[string]bool),
	}
}

func (b *buffer) pending() int {
	n := len(b.dirtyMessages) + len(b.dirtyWorkflows)
	if b.dirtyViewer {
		n++
	}
	if b.meta != nil {
		n++
	}
	return n
}

func (b *buffer) stopTimers() {
	if b.debounce != nil {
		b.debounce()
		b.debounce = nil
	}
	if b.interval != nil {
		b.interval()
		b.interval = nil
	}
}

func New(uowFactory unitofwork.RepositoryFactory, queue Queue, opts Options) *Aggregator {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Writer == "" {
		opts.Writer = ulid.Make().String()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	return &Aggregator{
		uowFactory: uowFactory,
		queue:      queue,
		opts:       opts,
		sessions:   make(map[uuid.UUID]*buffer),
		subs:       make(map[int]func(StatusEvent)),
	}
}

// Writer returns the id this aggregator stamps on its writes.
func (a *Aggregator) Writer() string {
	return a.opts.Writer
}

// Subscribe registers fn for save status events and returns its cancel.
func (a *Aggregator) Subscribe(fn func(StatusEvent)) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()
	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Aggregator) emit(evt StatusEvent) {
	evt.At = a.opts.Scheduler.Now()
	a.opts.Metrics.ObserveSaveStatus(string(evt.Status))

	a.subMu.Lock()
	fns := make([]func(StatusEvent), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// GetPendingUpdatesCount counts dirty records not yet handed to the queue.
func (a *Aggregator) GetPendingUpdatesCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.sessions {
		n += b.pending()
	}
	return n
}

// Sessions lists the ids of every open session.
func (a *Aggregator) Sessions() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	return ids
}
