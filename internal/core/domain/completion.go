package domain

// CompletionRequest asks the completion service for a single JSON object
// conforming to Schema.
type CompletionRequest struct {
	Prompt     string
	SchemaName string
	Schema     map[string]any
}
