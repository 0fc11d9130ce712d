// Package workflow talks to the AI workflow engine. When the engine cannot
// answer, callers get a deterministic local reply instead of an error.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bioai-workspace-be/internal/pkg/logger"

	"github.com/go-resty/resty/v2"
)

const module = "WORKFLOW_CLIENT"

const (
	TypeMolecularAnalysis = "molecular_analysis_workflow"
	TypePdbSearch         = "pdb_search_workflow"
	TypeConversation      = "conversation_processing"
)

type Action struct {
	Type   string                 `json:"type"`
	Target string                 `json:"target,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type Metadata struct {
	TokensUsed   int      `json:"tokensUsed"`
	DurationMs   int64    `json:"duration"`
	ToolsInvoked []string `json:"toolsInvoked"`
	Confidence   float64  `json:"confidence"`
	Sources      []string `json:"sources,omitempty"`
	// Fallback is set when the reply was produced locally.
	Fallback bool   `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Result struct {
	WorkflowId         string                 `json:"workflowId"`
	Response           string                 `json:"response"`
	Actions            []Action               `json:"actions"`
	NewContext         map[string]interface{} `json:"newContext,omitempty"`
	SuggestedFollowUps []string               `json:"suggestedFollowUps,omitempty"`
	Metadata           Metadata               `json:"metadata"`
	Status             string                 `json:"status"`
}

// Engine runs one workflow.
type Engine interface {
	Execute(ctx context.Context, workflowType string, params map[string]interface{}) (*Result, error)
}

type executeRequest struct {
	WorkflowType string                 `json:"workflowType"`
	Parameters   map[string]interface{} `json:"parameters"`
}

type executeResponse struct {
	WorkflowId string  `json:"workflow_id"`
	Status     string  `json:"status"`
	Result     *Result `json:"result"`
	Error      string  `json:"error"`
}

type Client struct {
	http   *resty.Client
	logger logger.ILogger
}

func NewClient(baseURL string, timeout time.Duration, log logger.ILogger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "bioai-workspace-be")
	return &Client{http: http, logger: log}
}

// Execute posts the workflow to the engine. Transport failures, non 2xx
// replies and engine errors all resolve to the local fallback reply. Only a
// cancelled ctx is returned as an error.
func (c *Client) Execute(ctx context.Context, workflowType string, params map[string]interface{}) (*Result, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	started := time.Now()
	var body executeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(executeRequest{WorkflowType: workflowType, Parameters: params}).
		SetResult(&body).
		Post("/api/v1/workflow/execute")

	var cause string
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cause = err.Error()
	case resp.IsError():
		cause = fmt.Sprintf("engine replied %d", resp.StatusCode())
	case body.Status == "error":
		cause = body.Error
		if cause == "" {
			cause = "engine reported an error"
		}
	case body.Result == nil || body.Result.Response == "":
		cause = "engine returned an empty response"
	}

	if cause != "" {
		c.logger.Warn(module, "Workflow engine unavailable, using fallback reply", map[string]interface{}{
			"workflow_type": workflowType,
			"error":         cause,
		})
		result := Fallback(workflowType, params)
		result.Metadata.Error = cause
		result.Metadata.DurationMs = time.Since(started).Milliseconds()
		return result, nil
	}

	result := body.Result
	if result.WorkflowId == "" {
		result.WorkflowId = body.WorkflowId
	}
	if result.Status == "" {
		result.Status = "completed"
	}
	c.logger.Info(module, "Workflow executed", map[string]interface{}{
		"workflow_type": workflowType,
		"workflow_id":   result.WorkflowId,
		"tools":         result.Metadata.ToolsInvoked,
		"duration_ms":   time.Since(started).Milliseconds(),
	})
	return result, nil
}
