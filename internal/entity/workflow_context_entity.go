package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowSchemaVersion is the payload version written by this build.
const WorkflowSchemaVersion = 2

const (
	MaxRecentMessages    = 20
	MaxTopics            = 20
	ToolSuccessWindow    = 50
	WorkflowHistoryLimit = 100
)

type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

type WorkflowContext struct {
	WorkflowId    string                `json:"workflow_id"`
	UserId        uuid.UUID             `json:"user_id"`
	SessionId     uuid.UUID             `json:"session_id"`
	WorkflowType  string                `json:"workflow_type"`
	SchemaVersion int                   `json:"schema_version"`
	Status        WorkflowStatus        `json:"status"`
	Progress      float64               `json:"progress"`
	CurrentStep   string                `json:"current_step"`
	TotalSteps    int                   `json:"total_steps"`
	Memory        ConversationMemory    `json:"memory"`
	Tools         map[string]*ToolStats `json:"tools"`
	Trace         ExecutionTrace        `json:"trace"`
	Molecular     MolecularContext      `json:"molecular"`
	Result        json.RawMessage       `json:"result,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

type ConversationMemory struct {
	RecentMessages []Message                 `json:"recent_messages"`
	Entities       map[string]*EntityMention `json:"entities"`
	Topics         []string                  `json:"topics"`
}

type EntityMention struct {
	Kind          string    `json:"kind"`
	Value         string    `json:"value"`
	Mentions      int       `json:"mentions"`
	LastMentioned time.Time `json:"last_mentioned"`
}

type ToolStats struct {
	Invocations   int     `json:"invocations"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	// Results holds the trailing success window, oldest first.
	Results   []bool    `json:"results"`
	LastError string    `json:"last_error,omitempty"`
	LastUsed  time.Time `json:"last_used"`
}

type ExecutionTrace struct {
	CurrentNode      string   `json:"current_node"`
	NodeHistory      []string `json:"node_history"`
	CompletedActions []string `json:"completed_actions"`
	PendingActions   []string `json:"pending_actions"`
}

type MolecularContext struct {
	ActiveStructures []string          `json:"active_structures"`
	AnalysisResults  map[string]string `json:"analysis_results"`
	SearchHistory    []string          `json:"search_history"`
}

type WorkflowHistoryEntry struct {
	WorkflowId   string         `json:"workflow_id"`
	UserId       uuid.UUID      `json:"user_id"`
	SessionId    uuid.UUID      `json:"session_id"`
	WorkflowType string         `json:"workflow_type"`
	Status       WorkflowStatus `json:"status"`
	DurationMs   int64          `json:"duration_ms"`
	ToolsInvoked []string       `json:"tools_invoked"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// workflowContextV1 is the original payload: tool usage was a flat counter
// map and the trace had no pending actions.
type workflowContextV1 struct {
	WorkflowId   string             `json:"workflow_id"`
	UserId       uuid.UUID          `json:"user_id"`
	SessionId    uuid.UUID          `json:"session_id"`
	WorkflowType string             `json:"workflow_type"`
	Status       WorkflowStatus     `json:"status"`
	Progress     float64            `json:"progress"`
	CurrentStep  string             `json:"current_step"`
	TotalSteps   int                `json:"total_steps"`
	Memory       ConversationMemory `json:"memory"`
	ToolCounts   map[string]int     `json:"tool_counts"`
	NodeHistory  []string           `json:"node_history"`
	Molecular    MolecularContext   `json:"molecular"`
	StartedAt    time.Time          `json:"started_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// DecodeWorkflowContext reads a stored payload of any known schema version
// and returns it at the current version.
func DecodeWorkflowContext(version int, raw []byte) (*WorkflowContext, error) {
	switch version {
	case 0, 1:
		var v1 workflowContextV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return nil, fmt.Errorf("decode workflow context v1: %w", err)
		}
		return migrateV1(&v1), nil
	case WorkflowSchemaVersion:
		var wc WorkflowContext
		if err := json.Unmarshal(raw, &wc); err != nil {
			return nil, fmt.Errorf("decode workflow context v2: %w", err)
		}
		wc.SchemaVersion = WorkflowSchemaVersion
		wc.Normalize()
		return &wc, nil
	default:
		return nil, fmt.Errorf("unsupported workflow context schema version %d", version)
	}
}

func migrateV1(v1 *workflowContextV1) *WorkflowContext {
	wc := &WorkflowContext{
		WorkflowId:    v1.WorkflowId,
		UserId:        v1.UserId,
		SessionId:     v1.SessionId,
		WorkflowType:  v1.WorkflowType,
		SchemaVersion: WorkflowSchemaVersion,
		Status:        v1.Status,
		Progress:      v1.Progress,
		CurrentStep:   v1.CurrentStep,
		TotalSteps:    v1.TotalSteps,
		Memory:        v1.Memory,
		Tools:         make(map[string]*ToolStats, len(v1.ToolCounts)),
		Trace: ExecutionTrace{
			CurrentNode: v1.CurrentStep,
			NodeHistory: v1.NodeHistory,
		},
		Molecular:   v1.Molecular,
		StartedAt:   v1.StartedAt,
		UpdatedAt:   v1.UpdatedAt,
		CompletedAt: v1.CompletedAt,
	}
	// v1 kept no outcomes, so success rate is unknown and starts at 1.
	for name, n := range v1.ToolCounts {
		wc.Tools[name] = &ToolStats{Invocations: n, SuccessRate: 1}
	}
	wc.Normalize()
	return wc
}

// Normalize fills nil collections so callers can mutate without checks.
func (wc *WorkflowContext) Normalize() {
	if wc.Tools == nil {
		wc.Tools = make(map[string]*ToolStats)
	}
	if wc.Memory.Entities == nil {
		wc.Memory.Entities = make(map[string]*EntityMention)
	}
	if wc.Molecular.AnalysisResults == nil {
		wc.Molecular.AnalysisResults = make(map[string]string)
	}
}

// Clone returns a deep copy through the JSON form.
func (wc *WorkflowContext) Clone() *WorkflowContext {
	raw, err := json.Marshal(wc)
	if err != nil {
		return nil
	}
	var out WorkflowContext
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	out.Normalize()
	return &out
}
