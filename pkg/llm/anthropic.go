package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/weftlabs/weft/pkg/events"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client on top of the Claude Messages API.
type AnthropicClient struct {
	messages  MessagesClient
	model     string
	maxTokens int64
}

// NewAnthropicClient builds a Claude-backed client.
func NewAnthropicClient(apiKey, model string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: &ac.Messages, model: model, maxTokens: int64(maxTokens)}, nil
}

// NewAnthropicClientFromMessages wraps an existing Messages client
// (useful for testing).
func NewAnthropicClientFromMessages(messages MessagesClient, model string, maxTokens int) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{messages: messages, model: model, maxTokens: int64(maxTokens)}
}

func (c *AnthropicClient) ModelName() string {
	return c.model
}

// Call issues a non-streaming Messages.New request and translates the
// response. Provider failures come back as *Error so the engine records
// them instead of aborting.
func (c *AnthropicClient) Call(ctx context.Context, messages []Message, tools []ToolDeclaration, systemPrompt string) (*Response, error) {
	params, err := c.encodeRequest(messages, tools, systemPrompt)
	if err != nil {
		return nil, &Error{Provider: "anthropic", Message: err.Error(), Err: err}
	}

	msg, err := c.messages.New(ctx, *params)
	if err != nil {
		return nil, &Error{Provider: "anthropic", Message: fmt.Sprintf("messages.new: %v", err), Err: err}
	}
	return c.translateResponse(msg)
}

func (c *AnthropicClient) encodeRequest(messages []Message, tools []ToolDeclaration, systemPrompt string) (*sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages are required")
	}

	conversation := make([]sdk.MessageParam, 0, len(messages))
	// Tool results must land in a user message immediately after the
	// assistant turn that requested them; consecutive tool messages are
	// grouped into one.
	var pendingResults []sdk.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			conversation = append(conversation, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			flushResults()
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))

		case RoleAssistant:
			flushResults()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))

		case RoleTool:
			pendingResults = append(pendingResults, encodeToolResult(m))

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	flushResults()

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  conversation,
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		encoded := make([]sdk.ToolUnionParam, 0, len(tools))
		for _, t := range tools {
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.Parameters}, t.Name)
			if u.OfTool != nil && t.Description != "" {
				u.OfTool.Description = sdk.String(t.Description)
			}
			encoded = append(encoded, u)
		}
		params.Tools = encoded
	}
	return params, nil
}

func encodeToolResult(m Message) sdk.ContentBlockParamUnion {
	var content string
	if m.IsError {
		content = m.Error
	} else {
		switch r := m.Result.(type) {
		case nil:
			content = ""
		case string:
			content = r
		default:
			if data, err := json.Marshal(r); err == nil {
				content = string(data)
			}
		}
	}
	return sdk.NewToolResultBlock(m.ToolCallID, content, m.IsError)
}

func (c *AnthropicClient) translateResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, &Error{Provider: "anthropic", Message: "response message is nil"}
	}

	resp := &Response{ModelName: string(msg.Model)}
	if resp.ModelName == "" {
		resp.ModelName = c.model
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, &Error{Provider: "anthropic",
						Message: fmt.Sprintf("undecodable tool_use input for %s: %v", block.Name, err), Err: err}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, events.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.TokenUsage = &events.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	return resp, nil
}
