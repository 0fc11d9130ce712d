package aggregator

import (
	"sort"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"

	"github.com/google/uuid"
)

// ChatUpdate upserts messages by id. Messages without an id are new.
type ChatUpdate struct {
	Messages []entity.Message `json:"messages"`
}

// ViewerUpdate replaces the fields that are set and leaves the rest.
type ViewerUpdate struct {
	Structures      *[]entity.Structure      `json:"structures,omitempty"`
	Camera          *entity.CameraPose       `json:"camera,omitempty"`
	Representations *[]entity.Representation `json:"representations,omitempty"`
	Selections      *[]entity.Selection      `json:"selections,omitempty"`
	Measurements    *[]entity.Measurement    `json:"measurements,omitempty"`
	Annotations     *[]entity.Annotation     `json:"annotations,omitempty"`
}

// MetadataUpdate changes session level fields. Settings merge by key.
type MetadataUpdate struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Tags        *[]string         `json:"tags,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

func (a *Aggregator) UpdateChatState(sessionID uuid.UUID, update ChatUpdate) error {
	return a.mutate(sessionID, func(b *buffer) {
		now := a.opts.Scheduler.Now()
		for _, msg := range update.Messages {
			if msg.Id == uuid.Nil {
				msg.Id = uuid.New()
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = now
			}
			if msg.Status == "" {
				msg.Status = entity.MessageStatusSending
			}
			msg.SessionId = sessionID

			replaced := false
			for i := range b.messages {
				if b.messages[i].Id != msg.Id {
					continue
				}
				if b.messages[i].Status == entity.MessageStatusSent {
					msg.Content = b.messages[i].Content
				}
				b.messages[i] = msg
				replaced = true
				break
			}
			if !replaced {
				b.messages = append(b.messages, msg)
			}
			b.dirtyMessages[msg.Id] = true
		}
		sortMessages(b.messages)
		b.session.MessageCount = len(b.messages)
	})
}

func (a *Aggregator) UpdateViewerState(sessionID uuid.UUID, update ViewerUpdate) error {
	return a.mutate(sessionID, func(b *buffer) {
		v := b.ensureViewer(sessionID)
		if update.Structures != nil {
			v.Structures = append([]entity.Structure(nil), (*update.Structures)...)
		}
		if update.Camera != nil {
			camera := *update.Camera
			v.Camera = &camera
		}
		if update.Representations != nil {
			v.Representations = append([]entity.Representation(nil), (*update.Representations)...)
		}
		if update.Selections != nil {
			v.Selections = append([]entity.Selection(nil), (*update.Selections)...)
		}
		if update.Measurements != nil {
			v.Measurements = append([]entity.Measurement(nil), (*update.Measurements)...)
		}
		if update.Annotations != nil {
			v.Annotations = append([]entity.Annotation(nil), (*update.Annotations)...)
		}
		b.dirtyViewer = true
	})
}

// UpdateInteractions appends to the interaction log, which keeps only the
// newest entries.
func (a *Aggregator) UpdateInteractions(sessionID uuid.UUID, events ...entity.InteractionEvent) error {
	return a.mutate(sessionID, func(b *buffer) {
		now := a.opts.Scheduler.Now()
		for i := range events {
			if events[i].At.IsZero() {
				events[i].At = now
			}
		}
		b.ensureViewer(sessionID)
		if dropped := b.interactions.Push(events...); dropped > 0 {
			a.opts.Logger.Debug(module, "Interaction log full, oldest entries dropped", map[string]interface{}{
				"session_id": sessionID,
				"dropped":    dropped,
			})
		}
		b.dirtyViewer = true
	})
}

// UpdateAIWorkflowState replaces the stored copy of one workflow context.
func (a *Aggregator) UpdateAIWorkflowState(sessionID uuid.UUID, wc *entity.WorkflowContext) error {
	if wc == nil || wc.WorkflowId == "" {
		return apperror.Validation("workflow update without a workflow id")
	}
	clone := wc.Clone()
	if clone == nil {
		return apperror.Validation("workflow %s cannot be encoded", wc.WorkflowId)
	}
	return a.mutate(sessionID, func(b *buffer) {
		clone.SessionId = sessionID
		clone.UserId = b.userID
		b.workflows[clone.WorkflowId] = clone
		b.dirtyWorkflows[clone.WorkflowId] = true
	})
}

func (a *Aggregator) UpdateSessionMetadata(sessionID uuid.UUID, update MetadataUpdate) error {
	return a.mutate(sessionID, func(b *buffer) {
		if b.meta == nil {
			b.meta = &entity.MetadataPayload{}
		}
		if update.Title != nil {
			title := *update.Title
			b.session.Title = title
			b.meta.Title = &title
		}
		if update.Description != nil {
			desc := *update.Description
			if desc == "" {
				b.session.Description = nil
			} else {
				b.session.Description = &desc
			}
			b.meta.Description = &desc
		}
		if update.Tags != nil {
			tags := append([]string{}, (*update.Tags)...)
			b.session.Tags = tags
			b.meta.Tags = tags
		}
		if len(update.Settings) > 0 {
			if b.session.Settings == nil {
				b.session.Settings = make(map[string]string)
			}
			if b.meta.Settings == nil {
				b.meta.Settings = make(map[string]string)
			}
			keys := make([]string, 0, len(update.Settings))
			for k := range update.Settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				b.session.Settings[k] = update.Settings[k]
				b.meta.Settings[k] = update.Settings[k]
			}
		}
	})
}

// mutate applies fn to an open session and arms the flush timers.
func (a *Aggregator) mutate(sessionID uuid.UUID, fn func(b *buffer)) error {
	a.mu.Lock()
	b, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return apperror.NotFound("session %s is not open", sessionID)
	}
	fn(b)
	a.armTimers(sessionID, b)
	a.mu.Unlock()
	return nil
}

// armTimers requires a.mu. The debounce restarts on every update; the
// interval timer is armed once per dirty period and bounds how long a
// steady stream of updates can defer a flush.
func (a *Aggregator) armTimers(sessionID uuid.UUID, b *buffer) {
	if b.debounce != nil {
		b.debounce()
	}
	b.debounce = a.opts.Scheduler.After(a.opts.Debounce, func() {
		a.timerFlush(sessionID)
	})
	if b.interval == nil {
		b.interval = a.opts.Scheduler.After(a.opts.FlushInterval, func() {
			a.timerFlush(sessionID)
		})
	}
}

func (b *buffer) ensureViewer(sessionID uuid.UUID) *entity.ViewerState {
	if b.viewer == nil {
		b.viewer = &entity.ViewerState{SessionId: sessionID}
	}
	return b.viewer
}
