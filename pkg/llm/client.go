// Package llm defines the provider-agnostic LLM client contract and the
// Anthropic and OpenAI adapters behind it.
package llm

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/events"
)

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation context sent to a provider.
// Tool-role messages carry the outcome of one tool call; exactly one of
// Result or Error is meaningful, discriminated by IsError.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []events.ToolCall // assistant messages that requested tools
	ToolCallID string            // tool messages: id of the call being answered
	ToolName   string            // tool messages: name of the executed tool
	Result     any               // tool messages: JSON-serialisable result
	Error      string            // tool messages: failure description
	IsError    bool
}

// ToolDeclaration describes one callable tool to the provider.
// Parameters is a JSON-Schema object.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is a provider answer: assistant text, requested tool calls, or
// both.
type Response struct {
	Text       string
	ToolCalls  []events.ToolCall
	ModelName  string
	TokenUsage *events.TokenUsage
}

// Client is the provider contract the engine consumes. Call blocks until the
// provider answers or ctx expires.
type Client interface {
	Call(ctx context.Context, messages []Message, tools []ToolDeclaration, systemPrompt string) (*Response, error)
	ModelName() string
}

// Error is a model-layer failure, distinguished from store and system errors
// so the engine records it as an LLMCallFailed event instead of aborting.
type Error struct {
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
