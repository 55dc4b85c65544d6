package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/projection"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/tools"
)

// scriptedLLM replays a fixed sequence of responses or errors, recording the
// conversation of each call.
type scriptedLLM struct {
	script        []scriptEntry
	calls         int
	conversations [][]llm.Message
}

type scriptEntry struct {
	response *llm.Response
	err      error
}

func textResponse(text string) scriptEntry {
	return scriptEntry{response: &llm.Response{Text: text, ModelName: "scripted"}}
}

func toolResponse(calls ...events.ToolCall) scriptEntry {
	return scriptEntry{response: &llm.Response{ToolCalls: calls, ModelName: "scripted"}}
}

func (s *scriptedLLM) Call(_ context.Context, messages []llm.Message, _ []llm.ToolDeclaration, _ string) (*llm.Response, error) {
	s.conversations = append(s.conversations, messages)
	if s.calls >= len(s.script) {
		return nil, errors.New("script exhausted")
	}
	entry := s.script[s.calls]
	s.calls++
	return entry.response, entry.err
}

func (s *scriptedLLM) ModelName() string { return "scripted" }

func newTestEngine(t *testing.T, script ...scriptEntry) (*Engine, *store.MemoryStore, *scriptedLLM) {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry))

	memStore := store.NewMemoryStore()
	model := &scriptedLLM{script: script}
	return &Engine{
		Store:            memStore,
		LLM:              model,
		Registry:         registry,
		AutoApproveTools: true,
	}, memStore, model
}

func startedSession(t *testing.T, st store.Store, message string) (threadID, streamName string) {
	t.Helper()
	threadID, streamName, err := StartSession(context.Background(), st, message, "", "")
	require.NoError(t, err)
	return threadID, streamName
}

func eventTypes(t *testing.T, st store.Store, streamName string) []string {
	t.Helper()
	msgs, err := st.ReadStream(context.Background(), streamName, 0, 0)
	require.NoError(t, err)
	types := make([]string, len(msgs))
	for i := range msgs {
		types[i] = msgs[i].Type
	}
	return types
}

func TestProcessThreadTextOnlyConversation(t *testing.T) {
	engine, memStore, model := newTestEngine(t, textResponse("Hi there"))
	threadID, streamName := startedSession(t, memStore, "Hello")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMResponseReceived,
	}, eventTypes(t, memStore, streamName))

	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, threadID, state.ThreadID)
	assert.Equal(t, 1, state.LLMCallCount)
	assert.Equal(t, 0, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)

	// The model saw exactly the user turn.
	require.Equal(t, 1, model.calls)
	require.Len(t, model.conversations[0], 1)
	assert.Equal(t, "Hello", model.conversations[0][0].Text)
}

func TestProcessThreadToolRoundTrip(t *testing.T) {
	engine, memStore, model := newTestEngine(t,
		toolResponse(events.ToolCall{
			ID: "call_a", Name: "calculate",
			Arguments: map[string]any{"expression": "2+3"},
		}),
		textResponse("The answer is 5."),
	)
	threadID, streamName := startedSession(t, memStore, "What is 2+3?")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMResponseReceived,
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionCompleted,
		events.TypeLLMResponseReceived,
	}, eventTypes(t, memStore, streamName))

	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, 2, state.LLMCallCount)
	assert.Equal(t, 1, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)

	// Second call carries the tool result back as a tool turn.
	require.Equal(t, 2, model.calls)
	second := model.conversations[1]
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "call_a", second[2].ToolCallID)
	assert.Equal(t, 5.0, second[2].Result)
}

func TestProcessThreadToolFailureFlowsBack(t *testing.T) {
	engine, memStore, model := newTestEngine(t,
		toolResponse(events.ToolCall{
			ID: "call_a", Name: "calculate",
			Arguments: map[string]any{"expression": "10/0"},
		}),
		textResponse("I cannot divide by zero."),
	)
	threadID, streamName := startedSession(t, memStore, "What is 10/0?")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMResponseReceived,
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionFailed,
		events.TypeLLMResponseReceived,
	}, eventTypes(t, memStore, streamName))

	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, 1, state.ErrorCount)

	// The failure reaches the model as an error tool turn.
	second := model.conversations[1]
	require.Len(t, second, 3)
	assert.True(t, second[2].IsError)
	assert.Equal(t, "ZeroDivisionError: division by zero", second[2].Error)
}

func TestProcessThreadUnknownToolFails(t *testing.T) {
	engine, memStore, _ := newTestEngine(t,
		toolResponse(events.ToolCall{ID: "call_a", Name: "launch_rockets"}),
		textResponse("That tool does not exist."),
	)
	threadID, streamName := startedSession(t, memStore, "fire away")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusTerminated, state.Status)

	msgs, err := memStore.ReadStream(context.Background(), streamName, 0, 0)
	require.NoError(t, err)
	var failed events.ToolExecutionFailedPayload
	require.NoError(t, msgs[4].UnmarshalData(&failed))
	assert.Equal(t, events.ToolErrorNotFound, failed.ErrorMessage)
}

func TestProcessThreadLLMFailureAfterRetries(t *testing.T) {
	boom := scriptEntry{err: errors.New("upstream unavailable")}
	engine, memStore, model := newTestEngine(t, boom, boom, boom)
	threadID, streamName := startedSession(t, memStore, "Hello")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMCallFailed,
	}, eventTypes(t, memStore, streamName))

	assert.Equal(t, projection.StatusFailed, state.Status)
	assert.Equal(t, 1, state.ErrorCount)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, model.calls)

	msgs, readErr := memStore.ReadStream(context.Background(), streamName, 0, 0)
	require.NoError(t, readErr)
	var failure events.LLMCallFailedPayload
	require.NoError(t, msgs[2].UnmarshalData(&failure))
	assert.Equal(t, projection.MaxLLMRetries, failure.RetryCount)
	assert.Contains(t, failure.ErrorMessage, "upstream unavailable")
}

func TestProcessThreadTransientLLMFailureRecovers(t *testing.T) {
	engine, memStore, model := newTestEngine(t,
		scriptEntry{err: errors.New("flaky")},
		textResponse("Recovered."),
	)
	threadID, streamName := startedSession(t, memStore, "Hello")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, 2, model.calls)
	assert.NotContains(t, eventTypes(t, memStore, streamName), events.TypeLLMCallFailed)
}

func TestProcessThreadMaxIterations(t *testing.T) {
	// The model requests the same tool forever.
	loop := toolResponse(events.ToolCall{
		ID: "call_a", Name: "echo", Arguments: map[string]any{"text": "again"},
	})
	engine, memStore, _ := newTestEngine(t, loop, loop, loop, loop, loop, loop)
	engine.MaxIterations = 3
	threadID, streamName := startedSession(t, memStore, "loop forever")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.ErrorIs(t, err, ErrMaxIterationsExceeded)

	types := eventTypes(t, memStore, streamName)
	assert.Equal(t, events.TypeSessionCompleted, types[len(types)-1])
	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, events.ReasonMaxIterations, state.CompletionReason)
}

func TestProcessThreadTerminationRequest(t *testing.T) {
	engine, memStore, model := newTestEngine(t)
	threadID, streamName := startedSession(t, memStore, "Hello")

	// Request termination before the loop runs; its first projection must
	// convert the request instead of calling the LLM.
	ctx := context.Background()
	_, err := memStore.WriteMessage(ctx, streamName, events.TypeSessionTerminationRequested,
		events.SessionTerminationRequestedPayload{Reason: "user_request"}, nil)
	require.NoError(t, err)

	state, err := engine.ProcessThread(ctx, threadID, streamName)
	require.NoError(t, err)

	types := eventTypes(t, memStore, streamName)
	assert.Equal(t, events.TypeSessionCompleted, types[len(types)-1])
	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, "user_request", state.CompletionReason)
	assert.Equal(t, 0, model.calls)
}

func TestProcessThreadTerminationAfterCompletionIsNoOp(t *testing.T) {
	engine, memStore, model := newTestEngine(t)
	threadID, streamName := startedSession(t, memStore, "Hello")

	// The session already finished; a late termination request must not
	// complete it a second time.
	ctx := context.Background()
	_, err := memStore.WriteMessage(ctx, streamName, events.TypeLLMResponseReceived,
		events.LLMResponseReceivedPayload{ResponseText: "Hi there", ModelName: "scripted"}, nil)
	require.NoError(t, err)
	_, err = memStore.WriteMessage(ctx, streamName, events.TypeSessionCompleted,
		events.SessionCompletedPayload{CompletionReason: "finished"}, nil)
	require.NoError(t, err)
	_, err = memStore.WriteMessage(ctx, streamName, events.TypeSessionTerminationRequested,
		events.SessionTerminationRequestedPayload{Reason: "user_request"}, nil)
	require.NoError(t, err)

	state, err := engine.ProcessThread(ctx, threadID, streamName)
	require.NoError(t, err)

	completions := 0
	for _, typ := range eventTypes(t, memStore, streamName) {
		if typ == events.TypeSessionCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, projection.StatusTerminated, state.Status)
	assert.Equal(t, "finished", state.CompletionReason)
	assert.Equal(t, 0, model.calls)
}

func TestProcessThreadResumesInterruptedToolBatch(t *testing.T) {
	engine, memStore, _ := newTestEngine(t, textResponse("Both done."))
	threadID, streamName := startedSession(t, memStore, "run both")

	// Seed a crashed run: two tool calls requested, only the first finished.
	ctx := context.Background()
	calls := []events.ToolCall{
		{ID: "call_a", Name: "echo", Arguments: map[string]any{"text": "one"}},
		{ID: "call_b", Name: "echo", Arguments: map[string]any{"text": "two"}},
	}
	_, err := memStore.WriteMessage(ctx, streamName, events.TypeLLMResponseReceived,
		events.LLMResponseReceivedPayload{ToolCalls: calls, ModelName: "scripted"}, nil)
	require.NoError(t, err)
	_, err = memStore.WriteMessage(ctx, streamName, events.TypeToolExecutionRequested,
		events.ToolExecutionRequestedPayload{ToolName: "echo", Arguments: calls[0].Arguments},
		&store.WriteOptions{Metadata: events.ToolCallMetadata{ToolID: "call_a", ToolIndex: 0}})
	require.NoError(t, err)
	_, err = memStore.WriteMessage(ctx, streamName, events.TypeToolExecutionCompleted,
		events.ToolExecutionCompletedPayload{ToolName: "echo", Result: "one"},
		&store.WriteOptions{Metadata: events.ToolCallMetadata{ToolID: "call_a", ToolIndex: 0}})
	require.NoError(t, err)

	state, err := engine.ProcessThread(ctx, threadID, streamName)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusTerminated, state.Status)

	// The first call is not re-run; only the second gets its triple finished.
	types := eventTypes(t, memStore, streamName)
	requestedCount := 0
	for _, tp := range types {
		if tp == events.TypeToolExecutionRequested {
			requestedCount++
		}
	}
	assert.Equal(t, 2, requestedCount)
	assert.Equal(t, []string{
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionCompleted,
		events.TypeLLMResponseReceived,
	}, types[len(types)-3:])
}

func TestProcessThreadApprovalGate(t *testing.T) {
	engine, memStore, _ := newTestEngine(t,
		toolResponse(events.ToolCall{
			ID: "call_a", Name: "echo",
			Arguments: map[string]any{"text": "secret"},
		}),
		textResponse("Understood, skipping."),
	)
	engine.AutoApproveTools = false
	engine.Approver = ApproverFunc(func(_ context.Context, _ string, call events.ToolCall) (Decision, error) {
		return Decision{Approved: false, DecidedBy: "tester", Reason: "not allowed"}, nil
	})
	threadID, streamName := startedSession(t, memStore, "echo a secret")

	state, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMResponseReceived,
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionRejected,
		events.TypeToolExecutionFailed,
		events.TypeLLMResponseReceived,
	}, eventTypes(t, memStore, streamName))

	msgs, readErr := memStore.ReadStream(context.Background(), streamName, 0, 0)
	require.NoError(t, readErr)
	var failed events.ToolExecutionFailedPayload
	require.NoError(t, msgs[5].UnmarshalData(&failed))
	assert.Equal(t, events.ToolErrorRejected, failed.ErrorMessage)
	assert.Equal(t, projection.StatusTerminated, state.Status)
}

func TestProcessThreadApprovalRecorded(t *testing.T) {
	engine, memStore, _ := newTestEngine(t,
		toolResponse(events.ToolCall{
			ID: "call_a", Name: "echo",
			Arguments: map[string]any{"text": "fine"},
		}),
		textResponse("Done."),
	)
	engine.AutoApproveTools = false
	engine.Approver = ApproverFunc(func(_ context.Context, _ string, _ events.ToolCall) (Decision, error) {
		return Decision{Approved: true, DecidedBy: "tester"}, nil
	})
	threadID, streamName := startedSession(t, memStore, "echo something")

	_, err := engine.ProcessThread(context.Background(), threadID, streamName)
	require.NoError(t, err)

	types := eventTypes(t, memStore, streamName)
	assert.Contains(t, types, events.TypeToolExecutionApproved)
	assert.Contains(t, types, events.TypeToolExecutionCompleted)
}

func TestProcessThreadEmptyStream(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.ProcessThread(context.Background(), "nope", "agent:v0-nope")
	require.ErrorIs(t, err, ErrEmptyStream)
}

func TestStartSessionValidation(t *testing.T) {
	memStore := store.NewMemoryStore()
	_, _, err := StartSession(context.Background(), memStore, "   ", "", "")
	require.Error(t, err)
	var sessionErr *SessionError
	assert.ErrorAs(t, err, &sessionErr)
}

func TestStartSessionSeedsStream(t *testing.T) {
	memStore := store.NewMemoryStore()
	threadID, streamName, err := StartSession(context.Background(), memStore, "Hello", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, threadID)
	assert.Equal(t, "agent:v0-"+threadID, streamName)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
	}, eventTypes(t, memStore, streamName))
}

func TestTerminateSessionValidation(t *testing.T) {
	memStore := store.NewMemoryStore()
	require.Error(t, TerminateSession(context.Background(), memStore, "", "done", "", ""))
	require.Error(t, TerminateSession(context.Background(), memStore, "thread", "  ", "", ""))
}

func TestTerminateSessionAppendsRequest(t *testing.T) {
	memStore := store.NewMemoryStore()
	threadID, streamName, err := StartSession(context.Background(), memStore, "Hello", "", "")
	require.NoError(t, err)

	require.NoError(t, TerminateSession(context.Background(), memStore, threadID, "user_request", "", ""))

	types := eventTypes(t, memStore, streamName)
	assert.Equal(t, events.TypeSessionTerminationRequested, types[len(types)-1])
}
