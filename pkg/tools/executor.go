package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/weftlabs/weft/pkg/metrics"
)

// ExecutionResult is the outcome of one tool run. Exactly one of Result or
// Err is meaningful, discriminated by OK. Duration is wall-clock time of the
// tool body, excluding registry lookup and validation.
type ExecutionResult struct {
	ToolName string
	OK       bool
	Result   any
	Err      string
	Duration time.Duration
}

// namedError renders as "Kind: message", the shape tool failures are
// recorded in so the LLM can pattern-match the failure class.
type namedError struct {
	Kind string
	Msg  string
}

func (e *namedError) Error() string {
	return e.Kind + ": " + e.Msg
}

// Errorf builds a classified tool error, e.g.
// Errorf("ZeroDivisionError", "division by zero").
func Errorf(kind, format string, args ...any) error {
	return &namedError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Execute runs one registered tool: validates the arguments against the
// tool's compiled schema, invokes the body, and measures wall-clock
// duration. Panics in tool bodies are recovered into failures. A registry
// miss is reported as a failure result, not an error; the caller decides
// how to record it.
func Execute(ctx context.Context, registry *Registry, name string, args map[string]any) ExecutionResult {
	rt, ok := registry.compiled(name)
	if !ok {
		metrics.ToolExecutions.WithLabelValues(name, "not_found").Inc()
		return ExecutionResult{ToolName: name, Err: fmt.Sprintf("ToolNotFoundError: no tool named %q", name)}
	}

	if rt.schema != nil {
		if args == nil {
			args = map[string]any{}
		}
		if err := rt.schema.Validate(normalize(args)); err != nil {
			metrics.ToolExecutions.WithLabelValues(name, "invalid_args").Inc()
			return ExecutionResult{ToolName: name, Err: fmt.Sprintf("ValidationError: %v", err)}
		}
	}

	result, duration, err := run(ctx, rt.tool, args)
	if err != nil {
		metrics.ToolExecutions.WithLabelValues(name, "failure").Inc()
		return ExecutionResult{ToolName: name, Err: err.Error(), Duration: duration}
	}

	metrics.ToolExecutions.WithLabelValues(name, "success").Inc()
	return ExecutionResult{ToolName: name, OK: true, Result: result, Duration: duration}
}

func run(ctx context.Context, tool Tool, args map[string]any) (result any, duration time.Duration, err error) {
	start := time.Now()
	defer func() {
		duration = time.Since(start)
		if r := recover(); r != nil {
			err = Errorf("PanicError", "tool %s panicked: %v", tool.Name, r)
		}
	}()
	result, err = tool.Fn(ctx, args)
	return result, time.Since(start), err
}

// normalize round-trips values that came from Go literals (e.g. in tests)
// into the generic form the schema validator expects. Arguments decoded from
// JSON are already in that form and pass through unchanged.
func normalize(args map[string]any) any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
