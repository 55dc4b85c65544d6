package projection

import (
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/store"
)

// Step is the processing loop's next action.
type Step string

const (
	StepCallLLM      Step = "call_llm"
	StepExecuteTools Step = "execute_tools"
	StepDone         Step = "done"
	StepFailed       Step = "failed"
)

// MaxLLMRetries is the retry budget of one LLM step. An LLMCallFailed event
// carrying this retry count marks the session as failed; a smaller count
// (written by an interrupted run) lets the loop try again.
const MaxLLMRetries = 2

// NextStep decides what the processing loop does next. Rules are evaluated
// in order; the first match wins:
//
//  1. a SessionCompleted anywhere makes the stream terminal
//  2. a tail LLMCallFailed fails the session once retries are exhausted,
//     otherwise the LLM is called again
//  3. a tail LLM response with unexecuted tool calls runs the tools; a
//     partially executed batch (interrupted run) resumes the remainder
//  4. a tail LLM response with no tool calls ends the conversation
//  5. a fully executed tool batch feeds the results back to the LLM
//  6. a tail user message or session start calls the LLM
//  7. anything else is treated as done
func NextStep(msgs []store.Message) Step {
	if len(msgs) == 0 {
		return StepDone
	}

	for i := range msgs {
		if msgs[i].Type == events.TypeSessionCompleted {
			return StepDone
		}
	}

	tail := &msgs[len(msgs)-1]
	switch tail.Type {
	case events.TypeLLMCallFailed:
		var p events.LLMCallFailedPayload
		if tail.UnmarshalData(&p) != nil || p.RetryCount >= MaxLLMRetries {
			return StepFailed
		}
		return StepCallLLM

	case events.TypeLLMResponseReceived:
		var p events.LLMResponseReceivedPayload
		if tail.UnmarshalData(&p) != nil {
			return StepDone
		}
		if len(p.ToolCalls) > 0 {
			return StepExecuteTools
		}
		return StepDone

	case events.TypeToolExecutionRequested,
		events.TypeToolExecutionApproved,
		events.TypeToolExecutionRejected,
		events.TypeToolExecutionCompleted,
		events.TypeToolExecutionFailed:
		if pendingToolCalls(msgs) > 0 {
			return StepExecuteTools
		}
		return StepCallLLM

	case events.TypeUserMessageAdded, events.TypeSessionStarted:
		return StepCallLLM
	}

	return StepDone
}

// StepCounts tallies the executed loop steps of a stream: LLM calls that
// produced a response, and tool executions that completed.
func StepCounts(msgs []store.Message) (llmCalls, toolExecutions int) {
	for i := range msgs {
		switch msgs[i].Type {
		case events.TypeLLMResponseReceived:
			llmCalls++
		case events.TypeToolExecutionCompleted:
			toolExecutions++
		}
	}
	return llmCalls, toolExecutions
}

// pendingToolCalls counts the calls of the latest LLM response that have no
// terminal (completed or failed) event yet.
func pendingToolCalls(msgs []store.Message) int {
	lastResponse := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == events.TypeLLMResponseReceived {
			lastResponse = i
			break
		}
	}
	if lastResponse < 0 {
		return 0
	}

	var p events.LLMResponseReceivedPayload
	if msgs[lastResponse].UnmarshalData(&p) != nil {
		return 0
	}

	terminal := 0
	for i := lastResponse + 1; i < len(msgs); i++ {
		switch msgs[i].Type {
		case events.TypeToolExecutionCompleted, events.TypeToolExecutionFailed:
			terminal++
		}
	}
	if terminal >= len(p.ToolCalls) {
		return 0
	}
	return len(p.ToolCalls) - terminal
}
