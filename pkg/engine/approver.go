package engine

import (
	"context"

	"github.com/weftlabs/weft/pkg/events"
)

// Decision is an approver's verdict on one tool call.
type Decision struct {
	Approved bool
	// DecidedBy identifies who made the call, e.g. "auto" or a user id.
	DecidedBy string
	// Reason is recorded on rejections.
	Reason string
}

// Approver gates tool executions. The tool step consults it for every call
// unless the engine runs with AutoApproveTools.
type Approver interface {
	Approve(ctx context.Context, threadID string, call events.ToolCall) (Decision, error)
}

// AutoApprove approves every tool call. It is the stock approver for
// non-interactive runs.
type AutoApprove struct{}

func (AutoApprove) Approve(context.Context, string, events.ToolCall) (Decision, error) {
	return Decision{Approved: true, DecidedBy: "auto"}, nil
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, threadID string, call events.ToolCall) (Decision, error)

func (f ApproverFunc) Approve(ctx context.Context, threadID string, call events.ToolCall) (Decision, error) {
	return f(ctx, threadID, call)
}
