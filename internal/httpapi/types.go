package httpapi

import "time"

// SubmitPipelineRequest is the POST /pipelines request body.
type SubmitPipelineRequest struct {
	// DotSource is the pipeline graph in DOT format (inline).
	// Exactly one of DotSource or DotSourcePath must be set.
	DotSource string `json:"dot_source,omitempty"`

	// DotSourcePath is a filesystem path to the DOT file.
	DotSourcePath string `json:"dot_source_path,omitempty"`

	// RunID is optional. If empty, a UUID is generated.
	RunID string `json:"run_id,omitempty"`
}

// SubmitPipelineResponse is returned by POST /pipelines.
type SubmitPipelineResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PipelineStatus is returned by GET /pipelines/{id}.
type PipelineStatus struct {
	RunID         string     `json:"run_id"`
	State         string     `json:"state"`
	CurrentNodeID string     `json:"current_node_id,omitempty"`
	LastEvent     string     `json:"last_event,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// PendingQuestion is returned by GET /pipelines/{id}/questions.
type PendingQuestion struct {
	QuestionID string           `json:"question_id"`
	NodeID     string           `json:"node_id"`
	Prompt     string           `json:"prompt"`
	Options    []QuestionOption `json:"options,omitempty"`
	AskedAt    time.Time        `json:"asked_at"`
}

// QuestionOption is a single option in a wait-for-human question.
type QuestionOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// AnswerRequest is the POST /pipelines/{id}/questions/{qid}/answer body.
type AnswerRequest struct {
	Value string `json:"value"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
