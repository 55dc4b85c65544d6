// Package events defines the event types and typed payloads persisted to
// agent session streams.
//
// Every fact about a session is one of these events; there is no mutable
// session row anywhere. Projections in pkg/projection fold them back into
// views (LLM context, next-step decision, session state).
package events

// Session lifecycle events.
const (
	TypeSessionStarted              = "SessionStarted"
	TypeUserMessageAdded            = "UserMessageAdded"
	TypeSessionTerminationRequested = "SessionTerminationRequested"
	TypeSessionCompleted            = "SessionCompleted"
)

// LLM step events.
const (
	TypeLLMResponseReceived = "LLMResponseReceived"
	TypeLLMCallFailed       = "LLMCallFailed"
)

// Tool step events. Every requested execution terminates in exactly one of
// completed or failed; approval events appear only when an approval gate is
// configured.
const (
	TypeToolExecutionRequested = "ToolExecutionRequested"
	TypeToolExecutionApproved  = "ToolExecutionApproved"
	TypeToolExecutionRejected  = "ToolExecutionRejected"
	TypeToolExecutionCompleted = "ToolExecutionCompleted"
	TypeToolExecutionFailed    = "ToolExecutionFailed"
)

// TypePositionRecorded is written to "position:{subscriberID}" streams by the
// message-store-backed position store.
const TypePositionRecorded = "PositionRecorded"

// Well-known completion reasons.
const (
	ReasonMaxIterations = "max_iterations_reached"
)

// Well-known tool failure messages.
const (
	ToolErrorRejected = "rejected_by_user"
	ToolErrorNotFound = "tool_not_found"
)
