package events

// ToolCall is one tool invocation requested by the LLM, as recorded in an
// LLMResponseReceived payload.
type ToolCall struct {
	ID        string         `json:"id"`        // provider-assigned call id
	Name      string         `json:"name"`      // registered tool name
	Arguments map[string]any `json:"arguments"` // opaque JSON arguments
}

// TokenUsage records the token accounting an LLM provider reported.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SessionStartedPayload is the payload for SessionStarted, the first event
// of every session stream.
type SessionStartedPayload struct {
	ThreadID string `json:"thread_id"`
}

// UserMessageAddedPayload is the payload for UserMessageAdded.
type UserMessageAddedPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // ISO-8601 UTC
}

// LLMResponseReceivedPayload is the payload for LLMResponseReceived.
// ResponseText may be empty when the model only requested tool calls.
type LLMResponseReceivedPayload struct {
	ResponseText string      `json:"response_text"`
	ToolCalls    []ToolCall  `json:"tool_calls"`
	ModelName    string      `json:"model_name"`
	TokenUsage   *TokenUsage `json:"token_usage,omitempty"`
}

// LLMCallFailedPayload is the payload for LLMCallFailed, written after the
// LLM step exhausts its retries.
type LLMCallFailedPayload struct {
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

// ToolExecutionRequestedPayload is the payload for ToolExecutionRequested.
type ToolExecutionRequestedPayload struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolExecutionApprovedPayload is the payload for ToolExecutionApproved.
type ToolExecutionApprovedPayload struct {
	ToolName   string `json:"tool_name"`
	ApprovedBy string `json:"approved_by"`
}

// ToolExecutionRejectedPayload is the payload for ToolExecutionRejected.
// The step also writes a ToolExecutionFailed so the tool call still
// terminates.
type ToolExecutionRejectedPayload struct {
	ToolName   string `json:"tool_name"`
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason,omitempty"`
}

// ToolExecutionCompletedPayload is the payload for ToolExecutionCompleted.
type ToolExecutionCompletedPayload struct {
	ToolName        string `json:"tool_name"`
	Result          any    `json:"result"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// ToolExecutionFailedPayload is the payload for ToolExecutionFailed.
// RetryCount is always 0; the projection, not a retry loop, decides what
// happens after a tool failure.
type ToolExecutionFailedPayload struct {
	ToolName     string `json:"tool_name"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

// SessionTerminationRequestedPayload is the payload for
// SessionTerminationRequested. The processing loop converts it into a
// SessionCompleted on its next iteration.
type SessionTerminationRequestedPayload struct {
	Reason string `json:"reason"`
}

// SessionCompletedPayload is the payload for SessionCompleted, the terminal
// event of a stream.
type SessionCompletedPayload struct {
	CompletionReason string `json:"completion_reason"`
}

// PositionRecordedPayload is the payload for PositionRecorded.
type PositionRecordedPayload struct {
	Position     int64  `json:"position"`
	SubscriberID string `json:"subscriber_id"`
}

// LLMCallMetadata is the metadata attached to LLM step result events.
type LLMCallMetadata struct {
	RetryCount int `json:"retry_count"`
}

// ToolCallMetadata is the metadata attached to every tool step event, used
// to correlate the requested/completed/failed triple of one call.
type ToolCallMetadata struct {
	ToolID    string `json:"tool_id"`    // provider-assigned call id
	ToolIndex int    `json:"tool_index"` // position in the LLM's tool_calls list
}
