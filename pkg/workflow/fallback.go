package workflow

import (
	"fmt"
	"strings"

	"bioai-workspace-be/internal/constant"
	"bioai-workspace-be/pkg/workflowctx"
)

const greeting = constant.WorkflowFallbackReply

var defaultFollowUps = []string{
	"Can you analyze a specific protein structure?",
	"How can I search the PDB database?",
	"Tell me about molecular analysis capabilities",
}

// Fallback builds the reply used when the engine is unreachable. The same
// input always gives the same output.
func Fallback(workflowType string, params map[string]interface{}) *Result {
	message, _ := params["message"].(string)
	found := workflowctx.Extract(message)

	result := &Result{
		Response:           greeting,
		Actions:            []Action{},
		SuggestedFollowUps: defaultFollowUps,
		Status:             "completed",
		NewContext: map[string]interface{}{
			"conversation_context": map[string]interface{}{
				"user_message": message,
				"ai_powered":   false,
			},
		},
		Metadata: Metadata{
			ToolsInvoked: []string{},
			Confidence:   0.3,
			Sources:      []string{"local fallback"},
			Fallback:     true,
		},
	}

	switch {
	case len(found.PdbIDs) > 0:
		ids := strings.Join(found.PdbIDs, ", ")
		result.Response = fmt.Sprintf("The analysis service is offline right now, so I can't analyze %s yet. I can still load the structure in the viewer, and your request is saved so we can pick it up when the service is back.", ids)
		for _, id := range found.PdbIDs {
			result.Actions = append(result.Actions, Action{Type: "load_structure", Target: id})
		}
		result.SuggestedFollowUps = []string{
			fmt.Sprintf("Show the secondary structure of %s", found.PdbIDs[0]),
			fmt.Sprintf("Find structures similar to %s", found.PdbIDs[0]),
		}
	case len(found.Proteins) > 0:
		result.Response = fmt.Sprintf("The search service is offline right now. Once it is back I can look up PDB entries for %s.", strings.Join(found.Proteins, ", "))
		result.SuggestedFollowUps = []string{fmt.Sprintf("Search the PDB for %s", found.Proteins[0])}
	case workflowType == TypeMolecularAnalysis || workflowType == TypePdbSearch:
		result.Response = "The analysis service is offline right now. Give me a PDB id such as 1CRN and I will load it in the viewer meanwhile."
	}
	result.Metadata.TokensUsed = len(result.Response) / 4
	return result
}
