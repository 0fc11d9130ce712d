package service

import (
	"context"
	"fmt"
	"time"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/workflow"
	"bioai-workspace-be/pkg/workflowctx"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const workflowModule = "WORKFLOW_SERVICE"

// engineTool is the tool name recorded when the engine itself could not
// answer.
const engineTool = "workflow_engine"

type IWorkflowService interface {
	Execute(ctx context.Context, userId uuid.UUID, req *dto.ExecuteWorkflowRequest) (*dto.ExecuteWorkflowResponse, error)
	Analytics(ctx context.Context) workflowctx.AnalyticsSummary
}

type workflowService struct {
	aggregator *aggregator.Aggregator
	tracker    *workflowctx.Tracker
	engine     workflow.Engine
	logger     logger.ILogger
	now        func() time.Time
}

func NewWorkflowService(agg *aggregator.Aggregator, tracker *workflowctx.Tracker, engine workflow.Engine, log logger.ILogger) IWorkflowService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &workflowService{aggregator: agg, tracker: tracker, engine: engine, logger: log, now: time.Now}
}

// Execute runs one chat turn through the workflow engine. Both messages
// land in the session chat and the tracker keeps the workflow context until
// the turn completes.
func (s *workflowService) Execute(ctx context.Context, userId uuid.UUID, req *dto.ExecuteWorkflowRequest) (*dto.ExecuteWorkflowResponse, error) {
	if _, err := s.aggregator.Open(ctx, userId, req.SessionId); err != nil {
		return nil, err
	}

	workflowId := ulid.Make().String()
	if _, err := s.tracker.InitializeWorkflow(workflowId, userId, req.SessionId, req.WorkflowType, 3); err != nil {
		return nil, err
	}

	userMsg := entity.Message{
		Id:        uuid.New(),
		SessionId: req.SessionId,
		Role:      constant.MessageRoleUser,
		Content:   req.Message,
		Status:    entity.MessageStatusSent,
		Timestamp: s.now(),
	}
	if err := s.aggregator.UpdateChatState(req.SessionId, aggregator.ChatUpdate{Messages: []entity.Message{userMsg}}); err != nil {
		s.fail(workflowId, err)
		return nil, err
	}
	_ = s.tracker.AddToConversationMemory(workflowId, userMsg, true)
	_ = s.tracker.UpdateProgress(workflowId, 33, "engine")

	params := make(map[string]interface{}, len(req.Parameters)+2)
	for k, v := range req.Parameters {
		params[k] = v
	}
	params["message"] = req.Message
	params["context"] = s.engineContext(workflowId, userId, req.SessionId)

	started := s.now()
	result, err := s.engine.Execute(ctx, req.WorkflowType, params)
	elapsed := s.now().Sub(started)
	if err != nil {
		_ = s.tracker.RecordToolUsage(workflowId, engineTool, nil, nil, elapsed, false, err.Error())
		s.fail(workflowId, err)
		return nil, err
	}
	s.recordTools(workflowId, result, elapsed)
	s.applyActions(workflowId, req, result)
	_ = s.tracker.UpdateProgress(workflowId, 90, "respond")

	aiMsg := entity.Message{
		Id:        uuid.New(),
		SessionId: req.SessionId,
		Role:      constant.MessageRoleAssistant,
		Content:   result.Response,
		Status:    entity.MessageStatusSent,
		Metadata: map[string]string{
			"workflow_id": workflowId,
			"fallback":    fmt.Sprint(result.Metadata.Fallback),
		},
		Timestamp: s.now(),
	}
	if err := s.aggregator.UpdateChatState(req.SessionId, aggregator.ChatUpdate{Messages: []entity.Message{aiMsg}}); err != nil {
		s.fail(workflowId, err)
		return nil, err
	}
	_ = s.tracker.AddToConversationMemory(workflowId, aiMsg, false)

	if _, err := s.tracker.CompleteWorkflow(ctx, workflowId, result, entity.WorkflowStatusCompleted); err != nil {
		s.logger.Warn(workflowModule, "Workflow completed but its final save failed", map[string]interface{}{
			"workflow_id": workflowId,
			"error":       err.Error(),
		})
	}

	actions := result.Actions
	if actions == nil {
		actions = []workflow.Action{}
	}
	return &dto.ExecuteWorkflowResponse{
		WorkflowId:         workflowId,
		SessionId:          req.SessionId,
		Response:           result.Response,
		Actions:            actions,
		SuggestedFollowUps: result.SuggestedFollowUps,
		Metadata:           result.Metadata,
		Status:             result.Status,
	}, nil
}

func (s *workflowService) Analytics(ctx context.Context) workflowctx.AnalyticsSummary {
	return s.tracker.AnalyticsSummary()
}

// engineContext is the conversation state the engine sees next to the
// message.
func (s *workflowService) engineContext(workflowId string, userId, sessionId uuid.UUID) map[string]interface{} {
	out := map[string]interface{}{
		"userId":     userId.String(),
		"sessionId":  sessionId.String(),
		"workflowId": workflowId,
	}
	if wc, ok := s.tracker.Get(workflowId); ok {
		out["topics"] = wc.Memory.Topics
		out["activeStructures"] = wc.Molecular.ActiveStructures
	}
	return out
}

func (s *workflowService) recordTools(workflowId string, result *workflow.Result, elapsed time.Duration) {
	if result.Metadata.Fallback {
		_ = s.tracker.RecordToolUsage(workflowId, engineTool, nil, nil, elapsed, false, result.Metadata.Error)
		return
	}
	tools := result.Metadata.ToolsInvoked
	if len(tools) == 0 {
		_ = s.tracker.RecordToolUsage(workflowId, engineTool, nil, nil, elapsed, true, "")
		return
	}
	per := elapsed / time.Duration(len(tools))
	for _, tool := range tools {
		_ = s.tracker.RecordToolUsage(workflowId, tool, nil, nil, per, true, "")
	}
}

// applyActions plans the engine's viewer actions and puts the structures it
// loads into the molecular context.
func (s *workflowService) applyActions(workflowId string, req *dto.ExecuteWorkflowRequest, result *workflow.Result) {
	planned := make([]string, 0, len(result.Actions))
	var structures []string
	for _, a := range result.Actions {
		planned = append(planned, a.Type+":"+a.Target)
		if a.Type == "load_structure" && a.Target != "" {
			structures = append(structures, a.Target)
		}
	}
	if len(planned) > 0 {
		_ = s.tracker.PlanActions(workflowId, planned...)
	}
	_ = s.tracker.UpdateMolecularContext(workflowId, func(mc *entity.MolecularContext) {
		for _, id := range structures {
			if !contains(mc.ActiveStructures, id) {
				mc.ActiveStructures = append(mc.ActiveStructures, id)
			}
		}
		if req.WorkflowType == workflow.TypePdbSearch {
			mc.SearchHistory = append(mc.SearchHistory, req.Message)
		}
	})
}

func (s *workflowService) fail(workflowId string, cause error) {
	_, err := s.tracker.CompleteWorkflow(context.Background(), workflowId, map[string]string{"error": cause.Error()}, entity.WorkflowStatusFailed)
	if err != nil {
		s.logger.Warn(workflowModule, "Failed workflow could not be saved", map[string]interface{}{
			"workflow_id": workflowId,
			"error":       err.Error(),
		})
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
