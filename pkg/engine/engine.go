// Package engine implements the agent processing loop: read the session
// stream, project it, decide the next step, execute it, append the result
// events, repeat. All state lives in the stream; the loop itself holds only
// a read cursor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/metrics"
	"github.com/weftlabs/weft/pkg/projection"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/tools"
)

// DefaultMaxIterations caps the processing loop when the engine does not
// configure its own limit.
const DefaultMaxIterations = 100

// ErrMaxIterationsExceeded is returned when the loop hits its iteration cap
// before the session reaches a terminal state. The session itself is closed
// with a SessionCompleted event before the error is returned.
var ErrMaxIterationsExceeded = errors.New("processing exceeded maximum iterations")

// ErrEmptyStream is returned when ProcessThread is pointed at a stream with
// no events.
var ErrEmptyStream = errors.New("stream has no events")

// Engine runs agent sessions to completion.
type Engine struct {
	Store    store.Store
	LLM      llm.Client
	Registry *tools.Registry

	// Approver gates tool executions. Ignored when AutoApproveTools is set
	// or when nil (both mean every call runs).
	Approver         Approver
	AutoApproveTools bool

	// MaxIterations caps the loop; <= 0 uses DefaultMaxIterations.
	MaxIterations int

	// SystemPrompt overrides llm.DefaultSystemPrompt when non-empty.
	SystemPrompt string
}

// ProcessThread runs the processing loop for one session until the session
// terminates or the iteration cap fires. It returns the final projected
// session state in either case.
func (e *Engine) ProcessThread(ctx context.Context, threadID, streamName string) (projection.SessionState, error) {
	maxIterations := e.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	log := slog.With("thread_id", threadID, "stream_name", streamName)
	log.Info("Starting thread processing", "max_iterations", maxIterations)

	// The loop accumulates events across iterations and reads only the tail
	// each time. Projections always see the full history.
	var accumulated []store.Message
	lastPosition := int64(-1)
	terminated := false

	iteration := 0
	for iteration < maxIterations {
		iteration++
		if err := ctx.Err(); err != nil {
			return projection.SessionState{}, err
		}

		tail, err := e.Store.ReadStream(ctx, streamName, lastPosition+1, 0)
		if err != nil {
			return projection.SessionState{}, fmt.Errorf("failed to read stream %s: %w", streamName, err)
		}
		accumulated = append(accumulated, tail...)
		if len(tail) > 0 {
			lastPosition = tail[len(tail)-1].Position
		}
		if len(accumulated) == 0 {
			return projection.SessionState{}, fmt.Errorf("%w: %s", ErrEmptyStream, streamName)
		}

		step := projection.NextStep(accumulated)
		metrics.EngineIterations.WithLabelValues(string(step)).Inc()
		log.Debug("Determined next step", "iteration", iteration, "step", step)

		switch step {
		case projection.StepDone:
			if err := e.finishTermination(ctx, streamName, accumulated); err != nil {
				return projection.SessionState{}, err
			}
			terminated = true

		case projection.StepFailed:
			log.Warn("Session failed", "iteration", iteration)
			terminated = true

		case projection.StepCallLLM:
			if err := e.llmStep(ctx, streamName, accumulated); err != nil {
				return projection.SessionState{}, err
			}

		case projection.StepExecuteTools:
			if err := e.toolStep(ctx, threadID, streamName, accumulated); err != nil {
				return projection.SessionState{}, err
			}
		}

		if terminated {
			break
		}
	}

	var loopErr error
	if !terminated && iteration >= maxIterations {
		log.Error("Exceeded maximum iterations", "iterations", iteration)
		if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeSessionCompleted,
			events.SessionCompletedPayload{CompletionReason: events.ReasonMaxIterations}, nil); err != nil {
			return projection.SessionState{}, fmt.Errorf("failed to close session after iteration cap: %w", err)
		}
		loopErr = ErrMaxIterationsExceeded
	}

	// One final full read so the returned state includes everything the loop
	// (or a concurrent writer) appended.
	msgs, err := e.readAll(ctx, streamName)
	if err != nil {
		return projection.SessionState{}, err
	}
	state := projection.ProjectSessionState(msgs)

	log.Info("Thread processing complete",
		"status", state.Status,
		"iterations", iteration,
		"llm_calls", state.LLMCallCount,
		"tool_calls", state.ToolCallCount)
	return state, loopErr
}

// finishTermination converts a trailing SessionTerminationRequested into the
// terminal SessionCompleted. A stream that is done for any other reason is
// left as is.
func (e *Engine) finishTermination(ctx context.Context, streamName string, msgs []store.Message) error {
	tail := &msgs[len(msgs)-1]
	if tail.Type != events.TypeSessionTerminationRequested {
		return nil
	}
	// A stream completes at most once; a termination request arriving after
	// SessionCompleted is a no-op.
	for i := range msgs {
		if msgs[i].Type == events.TypeSessionCompleted {
			return nil
		}
	}

	var p events.SessionTerminationRequestedPayload
	if err := tail.UnmarshalData(&p); err != nil {
		return fmt.Errorf("undecodable termination request: %w", err)
	}
	if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeSessionCompleted,
		events.SessionCompletedPayload{CompletionReason: p.Reason}, nil); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return nil
}

// llmStep calls the model with the projected conversation and records the
// outcome. Provider failures are retried in-process; the final failure is
// recorded as LLMCallFailed and the projection decides what happens next.
// Only append failures are returned as errors.
func (e *Engine) llmStep(ctx context.Context, streamName string, msgs []store.Message) error {
	conversation := projection.LLMContext(msgs)
	declarations := e.Registry.Declarations()
	prompt := e.SystemPrompt
	if prompt == "" {
		prompt = llm.DefaultSystemPrompt
	}

	var lastErr error
	for retryCount := 0; retryCount <= projection.MaxLLMRetries; retryCount++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		resp, err := e.LLM.Call(ctx, conversation, declarations, prompt)
		metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LLMCalls.WithLabelValues("failure").Inc()
			slog.Warn("LLM call failed",
				"stream_name", streamName, "retry_count", retryCount, "error", err)
			lastErr = err
			continue
		}

		metrics.LLMCalls.WithLabelValues("success").Inc()
		payload := events.LLMResponseReceivedPayload{
			ResponseText: resp.Text,
			ToolCalls:    resp.ToolCalls,
			ModelName:    resp.ModelName,
			TokenUsage:   resp.TokenUsage,
		}
		if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeLLMResponseReceived, payload,
			&store.WriteOptions{Metadata: events.LLMCallMetadata{RetryCount: retryCount}}); err != nil {
			return fmt.Errorf("failed to write LLM response: %w", err)
		}
		return nil
	}

	if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeLLMCallFailed,
		events.LLMCallFailedPayload{
			ErrorMessage: lastErr.Error(),
			RetryCount:   projection.MaxLLMRetries,
		}, nil); err != nil {
		return fmt.Errorf("failed to write LLM failure: %w", err)
	}
	return nil
}

// toolStep runs the current tool batch in order. An interrupted batch
// resumes: calls that already reached a terminal event are skipped, and a
// call whose ToolExecutionRequested survived a crash is not re-requested.
func (e *Engine) toolStep(ctx context.Context, threadID, streamName string, msgs []store.Message) error {
	calls := projection.ToolArguments(msgs)
	if len(calls) == 0 {
		return nil
	}
	requested, terminal := projection.ToolBatchStatus(msgs)

	for i, call := range calls {
		if terminal[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		toolID := call.ID
		if toolID == "" {
			toolID = fmt.Sprintf("call_%d", i)
		}
		meta := events.ToolCallMetadata{ToolID: toolID, ToolIndex: i}
		opts := &store.WriteOptions{Metadata: meta}

		if !requested[i] {
			if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionRequested,
				events.ToolExecutionRequestedPayload{ToolName: call.Name, Arguments: call.Arguments},
				opts); err != nil {
				return fmt.Errorf("failed to request tool %s: %w", call.Name, err)
			}
		}

		if !e.AutoApproveTools && e.Approver != nil {
			proceed, err := e.approve(ctx, threadID, streamName, call, opts)
			if err != nil {
				return err
			}
			if !proceed {
				continue
			}
		}

		if !e.Registry.Has(call.Name) {
			slog.Warn("Tool not found", "tool_name", call.Name, "stream_name", streamName)
			if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionFailed,
				events.ToolExecutionFailedPayload{ToolName: call.Name, ErrorMessage: events.ToolErrorNotFound},
				opts); err != nil {
				return fmt.Errorf("failed to record missing tool %s: %w", call.Name, err)
			}
			continue
		}

		result := tools.Execute(ctx, e.Registry, call.Name, call.Arguments)
		if result.OK {
			if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionCompleted,
				events.ToolExecutionCompletedPayload{
					ToolName:        call.Name,
					Result:          result.Result,
					ExecutionTimeMS: result.Duration.Milliseconds(),
				}, opts); err != nil {
				return fmt.Errorf("failed to record result of tool %s: %w", call.Name, err)
			}
			continue
		}

		slog.Warn("Tool execution failed",
			"tool_name", call.Name, "stream_name", streamName, "error", result.Err)
		if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionFailed,
			events.ToolExecutionFailedPayload{ToolName: call.Name, ErrorMessage: result.Err},
			opts); err != nil {
			return fmt.Errorf("failed to record failure of tool %s: %w", call.Name, err)
		}
	}
	return nil
}

// approve consults the approver and records the verdict. Returns false when
// the call was rejected (a terminal ToolExecutionFailed is written so the
// batch still converges).
func (e *Engine) approve(ctx context.Context, threadID, streamName string, call events.ToolCall, opts *store.WriteOptions) (bool, error) {
	decision, err := e.Approver.Approve(ctx, threadID, call)
	if err != nil {
		// An approver that cannot answer is a rejection, not a crash.
		decision = Decision{DecidedBy: "system", Reason: err.Error()}
	}

	if decision.Approved {
		if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionApproved,
			events.ToolExecutionApprovedPayload{ToolName: call.Name, ApprovedBy: decision.DecidedBy},
			opts); err != nil {
			return false, fmt.Errorf("failed to record approval of tool %s: %w", call.Name, err)
		}
		return true, nil
	}

	if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionRejected,
		events.ToolExecutionRejectedPayload{ToolName: call.Name, RejectedBy: decision.DecidedBy, Reason: decision.Reason},
		opts); err != nil {
		return false, fmt.Errorf("failed to record rejection of tool %s: %w", call.Name, err)
	}
	if _, err := e.Store.WriteMessage(ctx, streamName, events.TypeToolExecutionFailed,
		events.ToolExecutionFailedPayload{ToolName: call.Name, ErrorMessage: events.ToolErrorRejected},
		opts); err != nil {
		return false, fmt.Errorf("failed to record rejection failure of tool %s: %w", call.Name, err)
	}
	return false, nil
}

func (e *Engine) readAll(ctx context.Context, streamName string) ([]store.Message, error) {
	var all []store.Message
	from := int64(0)
	for {
		batch, err := e.Store.ReadStream(ctx, streamName, from, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to read stream %s: %w", streamName, err)
		}
		all = append(all, batch...)
		if int64(len(batch)) < store.DefaultBatchSize {
			return all, nil
		}
		from = batch[len(batch)-1].Position + 1
	}
}
