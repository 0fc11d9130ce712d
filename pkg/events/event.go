package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SESSION_ACTIVATED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Workspace event codes.
const (
	TypeSessionActivated  = "SESSION_ACTIVATED"
	TypeSessionRestored   = "SESSION_RESTORED"
	TypeSnapshotCreated   = "SNAPSHOT_CREATED"
	TypeCleanupCompleted  = "CLEANUP_COMPLETED"
	TypeOperationFailed   = "SYNC_OPERATION_FAILED"
	TypeIntegrityRepaired = "INTEGRITY_REPAIRED"
	TypeWorkflowCompleted = "WORKFLOW_COMPLETED"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
