package service

import (
	"context"
	"errors"
	"testing"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/repository/specification"
	"bioai-workspace-be/pkg/workflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowExecuteRecordsTurn(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	sessionID := w.session(t, "Hemoglobin")
	engine := &fakeEngine{result: &workflow.Result{
		Response: "Loading 4HHB for you.",
		Actions:  []workflow.Action{{Type: "load_structure", Target: "4HHB"}},
		Metadata: workflow.Metadata{ToolsInvoked: []string{"pdb_lookup"}},
		Status:   "completed",
	}}
	svc := NewWorkflowService(w.agg, w.tracker, engine, nil)

	res, err := svc.Execute(ctx, w.user, &dto.ExecuteWorkflowRequest{
		SessionId:    sessionID,
		WorkflowType: workflow.TypeMolecularAnalysis,
		Message:      "Show me 4HHB",
		Parameters:   map[string]interface{}{"depth": "full"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.WorkflowId)
	assert.Equal(t, "Loading 4HHB for you.", res.Response)
	require.Len(t, res.Actions, 1)

	require.Len(t, engine.calls, 1)
	params := engine.calls[0].params
	assert.Equal(t, "Show me 4HHB", params["message"])
	assert.Equal(t, "full", params["depth"])
	engineCtx := params["context"].(map[string]interface{})
	assert.Equal(t, res.WorkflowId, engineCtx["workflowId"])
	assert.Equal(t, sessionID.String(), engineCtx["sessionId"])

	state, ok := w.agg.State(sessionID)
	require.True(t, ok)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "user", state.Messages[0].Role)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.Equal(t, res.WorkflowId, state.Messages[1].Metadata["workflow_id"])

	history := w.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, entity.WorkflowStatusCompleted, history[0].Status)
	assert.Contains(t, history[0].ToolsInvoked, "pdb_lookup")

	// completion forces a save, so the turn is in the store
	assert.Len(t, w.storedMessages(t, sessionID), 2)
	stored, err := w.factory.NewUnitOfWork(ctx).WorkflowContextRepository().FindOne(ctx, specification.BySessionID{SessionID: sessionID})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entity.WorkflowStatusCompleted, stored.Status)
	assert.Contains(t, stored.Molecular.ActiveStructures, "4HHB")
}

func TestWorkflowExecuteRejectsForeignSession(t *testing.T) {
	w := newWorkspace(t)
	sessionID := w.session(t, "Private")
	engine := &fakeEngine{result: &workflow.Result{Response: "unused"}}
	svc := NewWorkflowService(w.agg, w.tracker, engine, nil)

	_, err := svc.Execute(context.Background(), uuid.New(), &dto.ExecuteWorkflowRequest{
		SessionId:    sessionID,
		WorkflowType: workflow.TypeConversation,
		Message:      "hello",
	})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Empty(t, engine.calls)
	assert.Empty(t, w.tracker.History())
}

func TestWorkflowExecuteFallbackCountsAsToolFailure(t *testing.T) {
	w := newWorkspace(t)
	sessionID := w.session(t, "Offline engine")
	engine := &fakeEngine{result: &workflow.Result{
		Response: "The analysis engine is unavailable right now.",
		Metadata: workflow.Metadata{Fallback: true, Error: "connection refused"},
		Status:   "completed",
	}}
	svc := NewWorkflowService(w.agg, w.tracker, engine, nil)

	res, err := svc.Execute(context.Background(), w.user, &dto.ExecuteWorkflowRequest{
		SessionId:    sessionID,
		WorkflowType: workflow.TypeConversation,
		Message:      "what is a kinase?",
	})
	require.NoError(t, err)
	assert.True(t, res.Metadata.Fallback)
	assert.NotNil(t, res.Actions)

	summary := svc.Analytics(context.Background())
	assert.Equal(t, 1, summary.CompletedWorkflows)
	require.NotEmpty(t, summary.PopularTools)
	assert.Equal(t, engineTool, summary.PopularTools[0].Tool)
}

func TestWorkflowExecuteEngineErrorFailsWorkflow(t *testing.T) {
	w := newWorkspace(t)
	sessionID := w.session(t, "Cancelled")
	engine := &fakeEngine{err: context.Canceled}
	svc := NewWorkflowService(w.agg, w.tracker, engine, nil)

	_, err := svc.Execute(context.Background(), w.user, &dto.ExecuteWorkflowRequest{
		SessionId:    sessionID,
		WorkflowType: workflow.TypePdbSearch,
		Message:      "search lysozyme",
	})
	require.True(t, errors.Is(err, context.Canceled))

	history := w.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, entity.WorkflowStatusFailed, history[0].Status)

	// the question stays in the chat even though nothing answered it
	state, ok := w.agg.State(sessionID)
	require.True(t, ok)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "search lysozyme", state.Messages[0].Content)
}
