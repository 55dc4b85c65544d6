package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/weftlabs/weft/pkg/events"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter. Satisfied by *openai.Client; tests pass a mock.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client on top of the chat completions API.
type OpenAIClient struct {
	chat  ChatClient
	model string
}

// NewOpenAIClient builds a GPT-backed client.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		return nil, errors.New("openai model identifier is required")
	}
	return &OpenAIClient{chat: openai.NewClient(apiKey), model: model}, nil
}

// NewOpenAIClientFromChat wraps an existing chat client (useful for testing).
func NewOpenAIClientFromChat(chat ChatClient, model string) *OpenAIClient {
	return &OpenAIClient{chat: chat, model: model}
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Call issues one chat completion and translates the first choice.
func (c *OpenAIClient) Call(ctx context.Context, messages []Message, tools []ToolDeclaration, systemPrompt string) (*Response, error) {
	req, err := c.encodeRequest(messages, tools, systemPrompt)
	if err != nil {
		return nil, &Error{Provider: "openai", Message: err.Error(), Err: err}
	}

	resp, err := c.chat.CreateChatCompletion(ctx, *req)
	if err != nil {
		return nil, &Error{Provider: "openai", Message: fmt.Sprintf("chat completion: %v", err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: "openai", Message: "response has no choices"}
	}
	return translateOpenAIResponse(&resp)
}

func (c *OpenAIClient) encodeRequest(messages []Message, tools []ToolDeclaration, systemPrompt string) (*openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages are required")
	}

	converted := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	// System prompt rides in the messages array, unlike Anthropic.
	if systemPrompt != "" {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			converted = append(converted, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text,
			})

		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text,
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("unmarshalable arguments for tool %s: %w", tc.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			converted = append(converted, msg)

		case RoleTool:
			// One message per tool result, linked by ToolCallID.
			content := m.Error
			if !m.IsError {
				switch r := m.Result.(type) {
				case string:
					content = r
				case nil:
					content = ""
				default:
					data, err := json.Marshal(r)
					if err != nil {
						return nil, fmt.Errorf("unmarshalable result for tool %s: %w", m.ToolName, err)
					}
					content = string(data)
				}
			}
			converted = append(converted, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
			})

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	req := &openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: converted,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req, nil
}

func translateOpenAIResponse(resp *openai.ChatCompletionResponse) (*Response, error) {
	choice := resp.Choices[0].Message

	out := &Response{
		Text:      choice.Content,
		ModelName: resp.Model,
	}
	for _, tc := range choice.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &Error{Provider: "openai",
					Message: fmt.Sprintf("undecodable arguments for tool %s: %v", tc.Function.Name, err), Err: err}
			}
		}
		out.ToolCalls = append(out.ToolCalls, events.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if resp.Usage.TotalTokens != 0 {
		out.TokenUsage = &events.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
