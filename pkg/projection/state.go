package projection

import (
	"time"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/store"
)

// Status is a session's derived lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
)

// SessionState is the fold of a session stream into its bookkeeping view.
// It is derived on demand and never stored.
type SessionState struct {
	ThreadID         string
	Status           Status
	UserMessageCount int
	LLMCallCount     int
	ToolCallCount    int
	ErrorCount       int
	CompletionReason string
	StartTime        *time.Time
	EndTime          *time.Time
	LastActivityTime *time.Time
}

// ProjectSessionState folds events into a SessionState. Status mirrors the
// next-step decision so a conversation that ended on a plain text response
// reads as terminated even without an explicit SessionCompleted event.
func ProjectSessionState(msgs []store.Message) SessionState {
	state := SessionState{Status: StatusNotStarted}
	if len(msgs) == 0 {
		return state
	}

	for i := range msgs {
		m := &msgs[i]
		switch m.Type {
		case events.TypeSessionStarted:
			var p events.SessionStartedPayload
			if m.UnmarshalData(&p) == nil {
				state.ThreadID = p.ThreadID
			}
			t := m.Time
			state.StartTime = &t

		case events.TypeUserMessageAdded:
			state.UserMessageCount++

		case events.TypeLLMResponseReceived:
			state.LLMCallCount++

		case events.TypeLLMCallFailed:
			state.ErrorCount++

		case events.TypeToolExecutionRequested:
			state.ToolCallCount++

		case events.TypeToolExecutionFailed:
			state.ErrorCount++

		case events.TypeSessionCompleted:
			var p events.SessionCompletedPayload
			if m.UnmarshalData(&p) == nil {
				state.CompletionReason = p.CompletionReason
			}
			t := m.Time
			state.EndTime = &t
		}
	}

	last := msgs[len(msgs)-1].Time
	state.LastActivityTime = &last

	switch NextStep(msgs) {
	case StepDone:
		state.Status = StatusTerminated
	case StepFailed:
		state.Status = StatusFailed
	default:
		state.Status = StatusActive
	}
	return state
}
