package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/pkg/syncqueue"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// AutoSnapshotter takes auto snapshots of sessions whose changes keep
// reaching the store. A session qualifies after MinOperations completed
// operations once MinInterval has passed since its last auto snapshot.
type AutoSnapshotter struct {
	manager       *Manager
	minOperations int
	minInterval   time.Duration

	mu       sync.Mutex
	counts   map[uuid.UUID]int
	lastTake map[uuid.UUID]time.Time
}

func NewAutoSnapshotter(manager *Manager, minOperations int, minInterval time.Duration) *AutoSnapshotter {
	if minOperations <= 0 {
		minOperations = 25
	}
	return &AutoSnapshotter{
		manager:       manager,
		minOperations: minOperations,
		minInterval:   minInterval,
		counts:        make(map[uuid.UUID]int),
		lastTake:      make(map[uuid.UUID]time.Time),
	}
}

// Run consumes completion events until ctx ends or the subscription closes.
func (a *AutoSnapshotter) Run(ctx context.Context, sub message.Subscriber) error {
	messages, err := sub.Subscribe(ctx, syncqueue.CompletedTopic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt syncqueue.CompletionEvent
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				a.manager.opts.Logger.Warn(module, "Malformed completion event", map[string]interface{}{
					"message_id": msg.UUID,
					"error":      err.Error(),
				})
				msg.Ack()
				continue
			}
			a.Observe(ctx, evt)
			msg.Ack()
		}
	}
}

// Evict drops the counters of a deleted session.
func (a *AutoSnapshotter) Evict(sessionID uuid.UUID) {
	a.mu.Lock()
	delete(a.counts, sessionID)
	delete(a.lastTake, sessionID)
	a.mu.Unlock()
}

// Observe counts one completed operation and snapshots the session when it
// qualifies. It reports whether a snapshot was taken.
func (a *AutoSnapshotter) Observe(ctx context.Context, evt syncqueue.CompletionEvent) bool {
	sessionID, err := uuid.Parse(evt.SessionId)
	if err != nil {
		return false
	}
	userID, err := uuid.Parse(evt.UserId)
	if err != nil {
		return false
	}

	now := a.manager.opts.Scheduler.Now()
	a.mu.Lock()
	a.counts[sessionID]++
	last, taken := a.lastTake[sessionID]
	due := a.counts[sessionID] >= a.minOperations && (!taken || now.Sub(last) >= a.minInterval)
	if due {
		a.counts[sessionID] = 0
		a.lastTake[sessionID] = now
	}
	a.mu.Unlock()
	if !due {
		return false
	}

	if _, err := a.manager.CreateSnapshot(ctx, userID, sessionID, entity.SnapshotTypeAuto, "automatic snapshot"); err != nil {
		a.manager.opts.Logger.Warn(module, "Auto snapshot failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return false
	}
	return true
}
