// Package workflowctx tracks the execution memory of running AI workflows
// and checkpoints it through the state aggregator.
package workflowctx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/repository/memory"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/ringbuf"
	"bioai-workspace-be/pkg/scheduler"

	"github.com/google/uuid"
)

const module = "WORKFLOW_TRACKER"

// Saver persists workflow checkpoints. The state aggregator implements it.
type Saver interface {
	UpdateAIWorkflowState(sessionID uuid.UUID, wc *entity.WorkflowContext) error
	ForceSave(ctx context.Context, sessionID *uuid.UUID) error
}

type Options struct {
	CheckpointEvery    time.Duration
	CheckpointDebounce time.Duration
	// ForceSaveActions forces a critical save after this many completed
	// actions since the last one.
	ForceSaveActions int

	Scheduler *scheduler.Scheduler
	Logger    logger.ILogger
	// ChatLog receives the chat event log. It is usually an isolated file
	// logger.
	ChatLog logger.ILogger
	Audit   audit.Publisher
}

type Tracker struct {
	store      *memory.WorkflowContextRepository
	saver      Saver
	uowFactory unitofwork.RepositoryFactory
	opts       Options

	mu        sync.Mutex
	timers    map[string]*checkpointTimers
	history   *ringbuf.Buffer[entity.WorkflowHistoryEntry]
	analytics analytics
}

type checkpointTimers struct {
	interval         scheduler.Cancel
	debounce         scheduler.Cancel
	actionsSinceSave int
}

func (t *checkpointTimers) stop() {
	if t.interval != nil {
		t.interval()
	}
	if t.debounce != nil {
		t.debounce()
	}
}

func New(store *memory.WorkflowContextRepository, saver Saver, uowFactory unitofwork.RepositoryFactory, opts Options) *Tracker {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 30 * time.Second
	}
	if opts.CheckpointDebounce <= 0 {
		opts.CheckpointDebounce = 2 * time.Second
	}
	if opts.ForceSaveActions <= 0 {
		opts.ForceSaveActions = 50
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.ChatLog == nil {
		opts.ChatLog = logger.NewNopLogger()
	}
	return &Tracker{
		store:      store,
		saver:      saver,
		uowFactory: uowFactory,
		opts:       opts,
		timers:     make(map[string]*checkpointTimers),
		history:    ringbuf.New[entity.WorkflowHistoryEntry](entity.WorkflowHistoryLimit),
		analytics:  analytics{toolUse: make(map[string]int)},
	}
}

// InitializeWorkflow starts tracking a workflow and writes a first
// checkpoint. An empty id gets a generated one.
func (t *Tracker) InitializeWorkflow(workflowID string, userID, sessionID uuid.UUID, workflowType string, totalSteps int) (*entity.WorkflowContext, error) {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	now := t.opts.Scheduler.Now()
	wc := &entity.WorkflowContext{
		WorkflowId:    workflowID,
		UserId:        userID,
		SessionId:     sessionID,
		WorkflowType:  workflowType,
		SchemaVersion: entity.WorkflowSchemaVersion,
		Status:        entity.WorkflowStatusRunning,
		TotalSteps:    totalSteps,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	wc.Normalize()

	t.mu.Lock()
	if _, exists := t.store.Get(workflowID); exists {
		t.mu.Unlock()
		return nil, apperror.Validation("workflow %s is already running", workflowID)
	}
	t.store.Save(wc)
	timers := &checkpointTimers{}
	timers.interval = t.opts.Scheduler.Every(t.opts.CheckpointEvery, func() {
		t.checkpoint(context.Background(), workflowID, false)
	})
	t.timers[workflowID] = timers
	snapshot := wc.Clone()
	t.mu.Unlock()

	t.chatEvent(EventWorkflowStart, snapshot, map[string]interface{}{
		"workflow_type": workflowType,
		"total_steps":   totalSteps,
	})
	t.checkpoint(context.Background(), workflowID, false)
	return snapshot, nil
}

// Get returns a copy of a running workflow.
func (t *Tracker) Get(workflowID string) (*entity.WorkflowContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wc, ok := t.store.Get(workflowID)
	if !ok {
		return nil, false
	}
	return wc.Clone(), true
}

// Active counts running workflows.
func (t *Tracker) Active() int {
	return t.store.Count()
}

func (t *Tracker) UpdateProgress(workflowID string, progress float64, step string) error {
	return t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		wc.Progress = progress
		if step != "" && step != wc.Trace.CurrentNode {
			wc.Trace.NodeHistory = append(wc.Trace.NodeHistory, step)
			wc.Trace.CurrentNode = step
		}
		wc.CurrentStep = step
	})
}

// AddToConversationMemory appends to the recent message window and, when
// asked, records the entities and topics the message mentions.
func (t *Tracker) AddToConversationMemory(workflowID string, msg entity.Message, extractEntities bool) error {
	var snapshot *entity.WorkflowContext
	err := t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = t.opts.Scheduler.Now()
		}
		mem := &wc.Memory
		mem.RecentMessages = append(mem.RecentMessages, msg)
		if n := len(mem.RecentMessages); n > entity.MaxRecentMessages {
			mem.RecentMessages = append([]entity.Message(nil), mem.RecentMessages[n-entity.MaxRecentMessages:]...)
		}
		if extractEntities {
			Extract(msg.Content).apply(mem, msg.Timestamp)
		}
		snapshot = wc.Clone()
	})
	if err != nil {
		return err
	}

	event := EventUserMessage
	if msg.Role == constant.MessageRoleAssistant {
		event = EventAIResponse
	}
	t.chatEvent(event, snapshot, map[string]interface{}{
		"message_id": msg.Id,
		"length":     len(msg.Content),
	})
	return nil
}

// RecordToolUsage folds one invocation into the tool's running statistics.
func (t *Tracker) RecordToolUsage(workflowID, tool string, params map[string]interface{}, result interface{}, duration time.Duration, success bool, errMsg string) error {
	var snapshot *entity.WorkflowContext
	err := t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		stats, ok := wc.Tools[tool]
		if !ok {
			stats = &entity.ToolStats{}
			wc.Tools[tool] = stats
		}
		stats.Invocations++
		ms := float64(duration) / float64(time.Millisecond)
		stats.AvgDurationMs += (ms - stats.AvgDurationMs) / float64(stats.Invocations)

		stats.Results = append(stats.Results, success)
		if n := len(stats.Results); n > entity.ToolSuccessWindow {
			stats.Results = append([]bool(nil), stats.Results[n-entity.ToolSuccessWindow:]...)
		}
		succeeded := 0
		for _, r := range stats.Results {
			if r {
				succeeded++
			}
		}
		stats.SuccessRate = float64(succeeded) / float64(len(stats.Results))
		stats.LastUsed = t.opts.Scheduler.Now()
		if !success {
			stats.LastError = errMsg
		}
		snapshot = wc.Clone()
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.analytics.toolUse[tool]++
	t.mu.Unlock()

	details := map[string]interface{}{
		"tool":        tool,
		"duration_ms": duration.Milliseconds(),
		"success":     success,
		"params":      params,
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil && len(raw) <= 2048 {
			details["result"] = json.RawMessage(raw)
		}
	}
	if errMsg != "" {
		details["error"] = errMsg
	}
	t.chatEvent(EventToolExecution, snapshot, details)
	return nil
}

// PlanActions queues actions the workflow intends to run.
func (t *Tracker) PlanActions(workflowID string, actions ...string) error {
	return t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		wc.Trace.PendingActions = append(wc.Trace.PendingActions, actions...)
	})
}

// RecordAction marks an action done. Every ForceSaveActions completed
// actions trigger a critical save.
func (t *Tracker) RecordAction(workflowID, action string) error {
	force := false
	err := t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		wc.Trace.CompletedActions = append(wc.Trace.CompletedActions, action)
		for i, pending := range wc.Trace.PendingActions {
			if pending == action {
				wc.Trace.PendingActions = append(wc.Trace.PendingActions[:i], wc.Trace.PendingActions[i+1:]...)
				break
			}
		}
		if timers, ok := t.timers[workflowID]; ok {
			timers.actionsSinceSave++
			if timers.actionsSinceSave >= t.opts.ForceSaveActions {
				timers.actionsSinceSave = 0
				force = true
			}
		}
	})
	if err != nil {
		return err
	}
	if force {
		t.checkpoint(context.Background(), workflowID, true)
	}
	return nil
}

// UpdateMolecularContext applies mutate and schedules a debounced save.
func (t *Tracker) UpdateMolecularContext(workflowID string, mutate func(mc *entity.MolecularContext)) error {
	var snapshot *entity.WorkflowContext
	err := t.mutate(workflowID, func(wc *entity.WorkflowContext) {
		mutate(&wc.Molecular)
		if wc.Molecular.AnalysisResults == nil {
			wc.Molecular.AnalysisResults = make(map[string]string)
		}
		if timers, ok := t.timers[workflowID]; ok {
			if timers.debounce != nil {
				timers.debounce()
			}
			timers.debounce = t.opts.Scheduler.After(t.opts.CheckpointDebounce, func() {
				t.checkpoint(context.Background(), workflowID, false)
			})
		}
		snapshot = wc.Clone()
	})
	if err != nil {
		return err
	}
	t.chatEvent(EventContextUpdate, snapshot, map[string]interface{}{
		"active_structures": len(snapshot.Molecular.ActiveStructures),
	})
	return nil
}

// CompleteWorkflow finalizes a workflow: a critical save of the final
// context, a history entry and eviction from memory.
func (t *Tracker) CompleteWorkflow(ctx context.Context, workflowID string, result interface{}, status entity.WorkflowStatus) (*entity.WorkflowContext, error) {
	if !status.Terminal() {
		return nil, apperror.Validation("status %q does not finish a workflow", status)
	}
	var raw json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, apperror.Validation("workflow result cannot be encoded: %v", err)
		}
		raw = encoded
	}

	t.mu.Lock()
	wc, ok := t.store.Get(workflowID)
	if !ok {
		t.mu.Unlock()
		return nil, apperror.NotFound("workflow %s is not running", workflowID)
	}
	now := t.opts.Scheduler.Now()
	wc.Status = status
	wc.Result = raw
	wc.UpdatedAt = now
	wc.CompletedAt = &now
	if status == entity.WorkflowStatusCompleted {
		wc.Progress = 100
	}
	if timers, ok := t.timers[workflowID]; ok {
		timers.stop()
		delete(t.timers, workflowID)
	}
	t.store.Delete(workflowID)
	final := wc.Clone()

	tools := make([]string, 0, len(final.Tools))
	for name := range final.Tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	entry := entity.WorkflowHistoryEntry{
		WorkflowId:   final.WorkflowId,
		UserId:       final.UserId,
		SessionId:    final.SessionId,
		WorkflowType: final.WorkflowType,
		Status:       status,
		DurationMs:   now.Sub(final.StartedAt).Milliseconds(),
		ToolsInvoked: tools,
		CompletedAt:  now,
	}
	t.history.Push(entry)
	t.analytics.record(entry)
	t.mu.Unlock()

	var saveErr error
	if err := t.saver.UpdateAIWorkflowState(final.SessionId, final); err != nil {
		saveErr = fmt.Errorf("stage final workflow state: %w", err)
	} else if err := t.saver.ForceSave(ctx, &final.SessionId); err != nil {
		saveErr = fmt.Errorf("save final workflow state: %w", err)
	}
	if saveErr != nil {
		t.opts.Logger.Error(module, "Final workflow save failed", map[string]interface{}{
			"workflow_id": workflowID,
			"error":       saveErr.Error(),
		})
	}

	event := EventWorkflowComplete
	if status != entity.WorkflowStatusCompleted {
		event = EventWorkflowError
	}
	t.chatEvent(event, final, map[string]interface{}{
		"status":        status,
		"duration_ms":   entry.DurationMs,
		"tools_invoked": tools,
	})
	if t.opts.Audit != nil {
		t.opts.Audit.PublishWorkflowCompleted(ctx, final.UserId, final.SessionId, workflowID, string(status), entry.DurationMs)
	}
	return final, saveErr
}

// RestoreWorkflowContext returns the workflow from memory or the store. It
// returns nil without error when no such workflow exists. A running
// workflow loaded from the store is tracked again.
func (t *Tracker) RestoreWorkflowContext(ctx context.Context, workflowID string, userID uuid.UUID) (*entity.WorkflowContext, error) {
	if wc, ok := t.Get(workflowID); ok {
		if wc.UserId != userID {
			return nil, apperror.Unauthorized("workflow %s is not owned by user %s", workflowID, userID)
		}
		return wc, nil
	}

	stored, err := t.uowFactory.NewUnitOfWork(ctx).WorkflowContextRepository().FindOne(ctx,
		specification.ByKey{Column: "workflow_id", Key: workflowID},
	)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if stored == nil {
		return nil, nil
	}
	if stored.UserId != userID {
		return nil, apperror.Unauthorized("workflow %s is not owned by user %s", workflowID, userID)
	}

	if stored.Status == entity.WorkflowStatusRunning {
		t.mu.Lock()
		if _, ok := t.store.Get(workflowID); !ok {
			t.store.Save(stored.Clone())
			timers := &checkpointTimers{}
			timers.interval = t.opts.Scheduler.Every(t.opts.CheckpointEvery, func() {
				t.checkpoint(context.Background(), workflowID, false)
			})
			t.timers[workflowID] = timers
		}
		t.mu.Unlock()
		t.opts.Logger.Info(module, "Workflow resumed from store", map[string]interface{}{
			"workflow_id": workflowID,
			"progress":    stored.Progress,
		})
	}
	return stored, nil
}

// History returns the most recent finished workflows, oldest first.
func (t *Tracker) History() []entity.WorkflowHistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.Slice()
}

// Close stops every checkpoint timer. Running workflows stay in memory.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timers := range t.timers {
		timers.stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) mutate(workflowID string, fn func(wc *entity.WorkflowContext)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wc, ok := t.store.Get(workflowID)
	if !ok {
		return apperror.NotFound("workflow %s is not running", workflowID)
	}
	fn(wc)
	wc.UpdatedAt = t.opts.Scheduler.Now()
	return nil
}

// checkpoint stages the current context with the aggregator. A forced
// checkpoint also flushes the session at critical priority.
func (t *Tracker) checkpoint(ctx context.Context, workflowID string, forced bool) {
	t.mu.Lock()
	wc, ok := t.store.Get(workflowID)
	if !ok {
		t.mu.Unlock()
		return
	}
	if timers, ok := t.timers[workflowID]; ok && !forced && timers.debounce != nil {
		timers.debounce()
		timers.debounce = nil
	}
	snapshot := wc.Clone()
	t.mu.Unlock()

	err := t.saver.UpdateAIWorkflowState(snapshot.SessionId, snapshot)
	if err == nil && forced {
		err = t.saver.ForceSave(ctx, &snapshot.SessionId)
	}
	if err != nil {
		t.opts.Logger.Warn(module, "Workflow checkpoint failed", map[string]interface{}{
			"workflow_id": workflowID,
			"forced":      forced,
			"error":       err.Error(),
		})
	}
}
