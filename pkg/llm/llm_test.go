package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/events"
)

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	response   *sdk.Message
	err        error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func anthropicTextResponse(text string) *sdk.Message {
	raw := `{
		"model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": ` + mustJSON(text) + `}],
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`
	var msg sdk.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		panic(err)
	}
	return &msg
}

func anthropicToolUseResponse() *sdk.Message {
	raw := `{
		"model": "claude-sonnet-4-5",
		"content": [
			{"type": "text", "text": "Let me calculate that."},
			{"type": "tool_use", "id": "toolu_01", "name": "calculate",
			 "input": {"expression": "2+3"}}
		],
		"usage": {"input_tokens": 20, "output_tokens": 15}
	}`
	var msg sdk.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		panic(err)
	}
	return &msg
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func TestAnthropicCallTranslatesText(t *testing.T) {
	fake := &fakeMessages{response: anthropicTextResponse("hello there")}
	client := NewAnthropicClientFromMessages(fake, "claude-sonnet-4-5", 0)

	resp, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "hi"}}, nil, "be brief")
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Text)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, "claude-sonnet-4-5", resp.ModelName)
	require.NotNil(t, resp.TokenUsage)
	assert.Equal(t, 12, resp.TokenUsage.InputTokens)
	assert.Equal(t, 7, resp.TokenUsage.OutputTokens)
	assert.Equal(t, 19, resp.TokenUsage.TotalTokens)

	// Request shape: default max tokens, system prompt, one user message.
	assert.Equal(t, int64(4096), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.System, 1)
	assert.Equal(t, "be brief", fake.lastParams.System[0].Text)
	require.Len(t, fake.lastParams.Messages, 1)
}

func TestAnthropicCallTranslatesToolUse(t *testing.T) {
	fake := &fakeMessages{response: anthropicToolUseResponse()}
	client := NewAnthropicClientFromMessages(fake, "claude-sonnet-4-5", 1024)

	resp, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "what is 2+3?"}},
		[]ToolDeclaration{{
			Name:        "calculate",
			Description: "Evaluate arithmetic.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"expression": map[string]any{"type": "string"}},
				"required":   []any{"expression"},
			},
		}}, "")
	require.NoError(t, err)

	assert.Equal(t, "Let me calculate that.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, "calculate", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"expression": "2+3"}, resp.ToolCalls[0].Arguments)

	assert.Equal(t, int64(1024), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.Tools, 1)
}

func TestAnthropicGroupsConsecutiveToolResults(t *testing.T) {
	fake := &fakeMessages{response: anthropicTextResponse("done")}
	client := NewAnthropicClientFromMessages(fake, "claude-sonnet-4-5", 0)

	_, err := client.Call(context.Background(), []Message{
		{Role: RoleUser, Text: "run both tools"},
		{Role: RoleAssistant, ToolCalls: []events.ToolCall{
			{ID: "a", Name: "calculate", Arguments: map[string]any{"expression": "1+1"}},
			{ID: "b", Name: "echo", Arguments: map[string]any{"text": "x"}},
		}},
		{Role: RoleTool, ToolCallID: "a", ToolName: "calculate", Result: 2.0},
		{Role: RoleTool, ToolCallID: "b", ToolName: "echo", Result: "x"},
	}, nil, "")
	require.NoError(t, err)

	// user, assistant, then ONE user message carrying both tool results.
	require.Len(t, fake.lastParams.Messages, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, fake.lastParams.Messages[2].Role)
	assert.Len(t, fake.lastParams.Messages[2].Content, 2)
}

func TestAnthropicCallWrapsTransportErrors(t *testing.T) {
	fake := &fakeMessages{err: errors.New("connection refused")}
	client := NewAnthropicClientFromMessages(fake, "claude-sonnet-4-5", 0)

	_, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "hi"}}, nil, "")
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "anthropic", llmErr.Provider)
	assert.Contains(t, llmErr.Message, "connection refused")
}

func TestAnthropicRejectsEmptyConversation(t *testing.T) {
	client := NewAnthropicClientFromMessages(&fakeMessages{}, "claude-sonnet-4-5", 0)
	_, err := client.Call(context.Background(), nil, nil, "")
	require.Error(t, err)
}

type fakeChat struct {
	lastRequest openai.ChatCompletionRequest
	response    openai.ChatCompletionResponse
	err         error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastRequest = request
	return f.response, f.err
}

func TestOpenAICallTranslatesText(t *testing.T) {
	fake := &fakeChat{response: openai.ChatCompletionResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: "hello there",
			},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client := NewOpenAIClientFromChat(fake, "gpt-4o")

	resp, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "hi"}}, nil, "be brief")
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Text)
	require.NotNil(t, resp.TokenUsage)
	assert.Equal(t, 15, resp.TokenUsage.TotalTokens)

	// System prompt rides as the first message.
	require.Len(t, fake.lastRequest.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.lastRequest.Messages[0].Role)
	assert.Equal(t, "be brief", fake.lastRequest.Messages[0].Content)
}

func TestOpenAICallTranslatesToolCalls(t *testing.T) {
	fake := &fakeChat{response: openai.ChatCompletionResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "calculate",
						Arguments: `{"expression":"2+3"}`,
					},
				}},
			},
		}},
	}}
	client := NewOpenAIClientFromChat(fake, "gpt-4o")

	resp, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "what is 2+3?"}},
		[]ToolDeclaration{{Name: "calculate", Description: "Evaluate arithmetic."}}, "")
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"expression": "2+3"}, resp.ToolCalls[0].Arguments)
	require.Len(t, fake.lastRequest.Tools, 1)
	assert.Equal(t, "calculate", fake.lastRequest.Tools[0].Function.Name)
}

func TestOpenAIEncodesToolResultsPerCall(t *testing.T) {
	fake := &fakeChat{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	client := NewOpenAIClientFromChat(fake, "gpt-4o")

	_, err := client.Call(context.Background(), []Message{
		{Role: RoleUser, Text: "run both"},
		{Role: RoleAssistant, ToolCalls: []events.ToolCall{
			{ID: "a", Name: "calculate", Arguments: map[string]any{"expression": "1+1"}},
			{ID: "b", Name: "echo", Arguments: map[string]any{"text": "x"}},
		}},
		{Role: RoleTool, ToolCallID: "a", ToolName: "calculate", Result: 2.0},
		{Role: RoleTool, ToolCallID: "b", ToolName: "echo", Error: "boom", IsError: true},
	}, nil, "")
	require.NoError(t, err)

	// user, assistant, then one tool message per result.
	require.Len(t, fake.lastRequest.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleTool, fake.lastRequest.Messages[2].Role)
	assert.Equal(t, "a", fake.lastRequest.Messages[2].ToolCallID)
	assert.Equal(t, "2", fake.lastRequest.Messages[2].Content)
	assert.Equal(t, "boom", fake.lastRequest.Messages[3].Content)
}

func TestOpenAICallWrapsTransportErrors(t *testing.T) {
	fake := &fakeChat{err: errors.New("rate limited")}
	client := NewOpenAIClientFromChat(fake, "gpt-4o")

	_, err := client.Call(context.Background(),
		[]Message{{Role: RoleUser, Text: "hi"}}, nil, "")
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "openai", llmErr.Provider)
}

func TestNewClientSelectsProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")

	c, err := NewClient(ProviderConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", c.ModelName())

	c, err = NewClient(ProviderConfig{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.ModelName())

	_, err = NewClient(ProviderConfig{Provider: "cohere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(ProviderConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"})
	require.Error(t, err)
}
