package constant

import "time"

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"

	DefaultSessionTitle = "Untitled workspace"

	// Fallback reply used when the workflow engine cannot be reached.
	WorkflowFallbackReply = "I'm BioAI, your molecular analysis assistant! I can help you with protein analysis, PDB database searches, and molecular structure comparisons. How can I assist you today?"
)

const (
	AutoSnapshotTTL   = 7 * 24 * time.Hour
	ManualSnapshotTTL = 30 * 24 * time.Hour
)
