package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry))
	return registry
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := newTestRegistry(t)

	assert.True(t, registry.Has("calculate"))
	assert.True(t, registry.Has("echo"))
	assert.True(t, registry.Has("get_current_time"))
	assert.False(t, registry.Has("missing"))
	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, []string{"calculate", "echo", "get_current_time"}, registry.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.Register(Tool{
		Name: "calculate",
		Fn:   func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Tool{
		Name:       "broken",
		Parameters: map[string]any{"type": 42},
		Fn:         func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	require.Error(t, err)
}

func TestDeclarationsAreSorted(t *testing.T) {
	registry := newTestRegistry(t)
	decls := registry.Declarations()
	require.Len(t, decls, 3)
	assert.Equal(t, "calculate", decls[0].Name)
	assert.NotEmpty(t, decls[0].Description)
	assert.NotNil(t, decls[0].Parameters)
}

func TestExecuteCalculate(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		expression string
		want       float64
	}{
		{"2+3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-3 + 1", -2},
		{"1.5 * 2", 3},
	}
	for _, tt := range tests {
		result := Execute(ctx, registry, "calculate", map[string]any{"expression": tt.expression})
		require.True(t, result.OK, "expression %q failed: %s", tt.expression, result.Err)
		assert.Equal(t, tt.want, result.Result, "expression %q", tt.expression)
	}
}

func TestExecuteDivisionByZero(t *testing.T) {
	registry := newTestRegistry(t)

	result := Execute(context.Background(), registry, "calculate", map[string]any{"expression": "10/0"})
	assert.False(t, result.OK)
	assert.Equal(t, "ZeroDivisionError: division by zero", result.Err)
}

func TestExecuteSyntaxError(t *testing.T) {
	registry := newTestRegistry(t)

	result := Execute(context.Background(), registry, "calculate", map[string]any{"expression": "2 +* 3"})
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "SyntaxError")
}

func TestExecuteValidatesArguments(t *testing.T) {
	registry := newTestRegistry(t)

	// required "expression" is missing
	result := Execute(context.Background(), registry, "calculate", map[string]any{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "ValidationError")

	// wrong type
	result = Execute(context.Background(), registry, "echo", map[string]any{"text": 42})
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "ValidationError")
}

func TestExecuteUnknownTool(t *testing.T) {
	registry := newTestRegistry(t)

	result := Execute(context.Background(), registry, "missing", map[string]any{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "ToolNotFoundError")
}

func TestExecuteRecoversPanics(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name: "explode",
		Fn: func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		},
	}))

	result := Execute(context.Background(), registry, "explode", nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "PanicError")
	assert.Contains(t, result.Err, "kaboom")
}

func TestExecuteMeasuresDuration(t *testing.T) {
	registry := newTestRegistry(t)

	result := Execute(context.Background(), registry, "echo", map[string]any{"text": "hello"})
	require.True(t, result.OK)
	assert.Equal(t, "hello", result.Result)
	assert.GreaterOrEqual(t, result.Duration.Nanoseconds(), int64(0))
}

func TestErrorfShape(t *testing.T) {
	err := Errorf("ValueError", "bad input %d", 7)
	assert.Equal(t, "ValueError: bad input 7", err.Error())
	var ne *namedError
	assert.True(t, errors.As(err, &ne))
}
