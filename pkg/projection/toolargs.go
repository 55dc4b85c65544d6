package projection

import (
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/store"
)

// ToolArguments returns the tool calls of the most recent LLMResponseReceived
// event, scanning from the tail. Empty when no LLM response exists or the
// latest one requested no tools.
func ToolArguments(msgs []store.Message) []events.ToolCall {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type != events.TypeLLMResponseReceived {
			continue
		}
		var p events.LLMResponseReceivedPayload
		if msgs[i].UnmarshalData(&p) != nil {
			return nil
		}
		return p.ToolCalls
	}
	return nil
}

// ToolBatchStatus reports, for the current tool batch (everything after the
// latest LLMResponseReceived), which tool indexes already have a
// ToolExecutionRequested and which reached a terminal completed/failed
// event. The engine uses it to resume an interrupted batch without
// re-requesting or re-running calls.
func ToolBatchStatus(msgs []store.Message) (requested, terminal map[int]bool) {
	requested = make(map[int]bool)
	terminal = make(map[int]bool)

	lastResponse := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == events.TypeLLMResponseReceived {
			lastResponse = i
			break
		}
	}
	if lastResponse < 0 {
		return requested, terminal
	}

	for i := lastResponse + 1; i < len(msgs); i++ {
		m := &msgs[i]
		var meta events.ToolCallMetadata
		if m.UnmarshalMetadata(&meta) != nil {
			continue
		}
		switch m.Type {
		case events.TypeToolExecutionRequested:
			requested[meta.ToolIndex] = true
		case events.TypeToolExecutionCompleted, events.TypeToolExecutionFailed:
			terminal[meta.ToolIndex] = true
		}
	}
	return requested, terminal
}
