package dto

import (
	"bioai-workspace-be/pkg/workflow"

	"github.com/google/uuid"
)

type ExecuteWorkflowRequest struct {
	SessionId    uuid.UUID              `json:"session_id" validate:"required"`
	WorkflowType string                 `json:"workflow_type" validate:"required,oneof=molecular_analysis_workflow pdb_search_workflow conversation_processing"`
	Message      string                 `json:"message" validate:"required,max=8000"`
	Parameters   map[string]interface{} `json:"parameters"`
}

type ExecuteWorkflowResponse struct {
	WorkflowId         string            `json:"workflow_id"`
	SessionId          uuid.UUID         `json:"session_id"`
	Response           string            `json:"response"`
	Actions            []workflow.Action `json:"actions"`
	SuggestedFollowUps []string          `json:"suggested_follow_ups,omitempty"`
	Metadata           workflow.Metadata `json:"metadata"`
	Status             string            `json:"status"`
}
