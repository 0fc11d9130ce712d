package workflowctx

import (
	"sort"

	"bioai-workspace-be/internal/entity"
)

// Chat event log entries. The message of each log line is the event name.
const (
	EventUserMessage      = "user_message"
	EventAIResponse       = "ai_response"
	EventWorkflowStart    = "workflow_start"
	EventWorkflowComplete = "workflow_complete"
	EventWorkflowError    = "workflow_error"
	EventToolExecution    = "tool_execution"
	EventContextUpdate    = "context_update"
)

const chatModule = "CHAT_EVENTS"

func (t *Tracker) chatEvent(event string, wc *entity.WorkflowContext, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	if wc != nil {
		details["workflow_id"] = wc.WorkflowId
		details["session_id"] = wc.SessionId
		details["user_id"] = wc.UserId
	}
	if event == EventWorkflowError {
		t.opts.ChatLog.Error(chatModule, event, details)
		return
	}
	t.opts.ChatLog.Info(chatModule, event, details)
}

type ToolUsage struct {
	Tool        string `json:"tool"`
	Invocations int    `json:"invocations"`
}

type AnalyticsSummary struct {
	TotalWorkflows     int         `json:"total_workflows"`
	CompletedWorkflows int         `json:"completed_workflows"`
	ErrorCount         int         `json:"error_count"`
	ErrorRate          float64     `json:"error_rate"`
	AvgDurationMs      float64     `json:"avg_duration_ms"`
	ActiveWorkflows    int         `json:"active_workflows"`
	PopularTools       []ToolUsage `json:"popular_tools"`
}

type analytics struct {
	total       int
	completed   int
	errors      int
	durationSum int64
	toolUse     map[string]int
}

func (a *analytics) record(entry entity.WorkflowHistoryEntry) {
	a.total++
	a.durationSum += entry.DurationMs
	if entry.Status == entity.WorkflowStatusCompleted {
		a.completed++
	} else {
		a.errors++
	}
}

// AnalyticsSummary reports totals since start. Popular tools are the ten
// most invoked, ties broken by name.
func (t *Tracker) AnalyticsSummary() AnalyticsSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := AnalyticsSummary{
		TotalWorkflows:     t.analytics.total,
		CompletedWorkflows: t.analytics.completed,
		ErrorCount:         t.analytics.errors,
		ActiveWorkflows:    t.store.Count(),
	}
	if t.analytics.total > 0 {
		out.AvgDurationMs = float64(t.analytics.durationSum) / float64(t.analytics.total)
		out.ErrorRate = float64(t.analytics.errors) / float64(t.analytics.total)
	}
	for tool, n := range t.analytics.toolUse {
		out.PopularTools = append(out.PopularTools, ToolUsage{Tool: tool, Invocations: n})
	}
	sort.Slice(out.PopularTools, func(i, j int) bool {
		if out.PopularTools[i].Invocations == out.PopularTools[j].Invocations {
			return out.PopularTools[i].Tool < out.PopularTools[j].Tool
		}
		return out.PopularTools[i].Invocations > out.PopularTools[j].Invocations
	})
	if len(out.PopularTools) > 10 {
		out.PopularTools = out.PopularTools[:10]
	}
	return out
}
