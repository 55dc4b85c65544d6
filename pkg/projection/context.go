package projection

import (
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/store"
)

// LLMContext folds a session stream into the ordered conversation the next
// LLM call receives. User messages become user turns, non-empty LLM
// responses become assistant turns (with their tool calls attached), and
// tool outcomes become tool turns. Everything else is skipped. Undecodable
// payloads are skipped too; a malformed historic event must not wedge the
// session.
func LLMContext(msgs []store.Message) []llm.Message {
	var context []llm.Message

	for i := range msgs {
		m := &msgs[i]
		switch m.Type {
		case events.TypeUserMessageAdded:
			var p events.UserMessageAddedPayload
			if m.UnmarshalData(&p) != nil {
				continue
			}
			context = append(context, llm.Message{Role: llm.RoleUser, Text: p.Message})

		case events.TypeLLMResponseReceived:
			var p events.LLMResponseReceivedPayload
			if m.UnmarshalData(&p) != nil {
				continue
			}
			if p.ResponseText == "" && len(p.ToolCalls) == 0 {
				continue
			}
			context = append(context, llm.Message{
				Role:      llm.RoleAssistant,
				Text:      p.ResponseText,
				ToolCalls: p.ToolCalls,
			})

		case events.TypeToolExecutionCompleted:
			var p events.ToolExecutionCompletedPayload
			if m.UnmarshalData(&p) != nil {
				continue
			}
			context = append(context, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: toolCallID(m),
				ToolName:   p.ToolName,
				Result:     p.Result,
			})

		case events.TypeToolExecutionFailed:
			var p events.ToolExecutionFailedPayload
			if m.UnmarshalData(&p) != nil {
				continue
			}
			context = append(context, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: toolCallID(m),
				ToolName:   p.ToolName,
				Error:      p.ErrorMessage,
				IsError:    true,
			})
		}
	}
	return context
}

// LastUserMessage returns the text of the most recent UserMessageAdded, or
// "" when none exists.
func LastUserMessage(msgs []store.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type != events.TypeUserMessageAdded {
			continue
		}
		var p events.UserMessageAddedPayload
		if msgs[i].UnmarshalData(&p) != nil {
			return ""
		}
		return p.Message
	}
	return ""
}

// ConversationTurns counts completed exchanges. A turn needs both a user
// message and an LLM response, so a question still awaiting its answer does
// not count.
func ConversationTurns(msgs []store.Message) int {
	userMessages, responses := 0, 0
	for i := range msgs {
		switch msgs[i].Type {
		case events.TypeUserMessageAdded:
			userMessages++
		case events.TypeLLMResponseReceived:
			responses++
		}
	}
	return min(userMessages, responses)
}

func toolCallID(m *store.Message) string {
	var meta events.ToolCallMetadata
	if m.UnmarshalMetadata(&meta) != nil {
		return ""
	}
	return meta.ToolID
}
