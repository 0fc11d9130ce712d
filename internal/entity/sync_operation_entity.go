package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OperationType string

const (
	OperationChatMessage     OperationType = "chat_message"
	OperationViewerState     OperationType = "viewer_state"
	OperationWorkflowUpdate  OperationType = "ai_workflow_update"
	OperationSessionMetadata OperationType = "session_metadata"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationChatMessage, OperationViewerState, OperationWorkflowUpdate, OperationSessionMetadata:
		return true
	}
	return false
}

// Priority ranks operations; a higher value drains first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	}
	return 0, false
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*p = Priority(n)
		return nil
	}
	parsed, ok := ParsePriority(s)
	if !ok {
		return fmt.Errorf("unknown priority %q", s)
	}
	*p = parsed
	return nil
}

// MaxRetriesFor returns the retry allowance of a priority class.
func MaxRetriesFor(p Priority) int {
	switch p {
	case PriorityCritical:
		return 5
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

type SyncOperation struct {
	Id            string          `json:"id"`
	Type          OperationType   `json:"type"`
	Target        string          `json:"target"`
	SessionId     *uuid.UUID      `json:"session_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      Priority        `json:"priority"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Status        OperationStatus `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// SyncStatistics is a point-in-time view of the queue.
type SyncStatistics struct {
	Total            int           `json:"total"`
	Pending          int           `json:"pending"`
	Processing       int           `json:"processing"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	AvgRetryCount    float64       `json:"avg_retry_count"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	FailureCounter   int64         `json:"failure_counter"`
}

// Payloads carried by sync operations. BaseRevision is the session revision
// the writer last observed; Writer identifies the aggregator that produced it.

type ChatPayload struct {
	UserId       uuid.UUID `json:"user_id"`
	BaseRevision int64     `json:"base_revision"`
	Writer       string    `json:"writer,omitempty"`
	Messages     []Message `json:"messages"`
}

type ViewerPayload struct {
	UserId       uuid.UUID   `json:"user_id"`
	BaseRevision int64       `json:"base_revision"`
	Writer       string      `json:"writer,omitempty"`
	State        ViewerState `json:"state"`
}

type WorkflowPayload struct {
	UserId       uuid.UUID        `json:"user_id"`
	BaseRevision int64            `json:"base_revision"`
	Writer       string           `json:"writer,omitempty"`
	Context      *WorkflowContext `json:"context"`
}

type MetadataPayload struct {
	UserId       uuid.UUID         `json:"user_id"`
	BaseRevision int64             `json:"base_revision"`
	Writer       string            `json:"writer,omitempty"`
	Title        *string           `json:"title,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
}
