// Package tools provides the tool registry and executor the agent engine
// invokes on behalf of the LLM. Tools are registered at startup and the
// registry is read-only afterwards.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/weftlabs/weft/pkg/llm"
)

// Func is a tool body. Arguments arrive as the opaque JSON map the LLM
// produced; the return value must be JSON-serialisable. Errors are recorded
// as ToolExecutionFailed events, never propagated as engine failures.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named function with a JSON-Schema parameter spec.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema object for the arguments
	Fn          Func
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool. The parameter schema is compiled once here so
// execution only validates. Duplicate names and uncompilable schemas are
// registration errors.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if tool.Fn == nil {
		return fmt.Errorf("tool %s has no function", tool.Name)
	}

	var schema *jsonschema.Schema
	if tool.Parameters != nil {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return fmt.Errorf("tool %s has unmarshalable parameters: %w", tool.Name, err)
		}
		schema, err = jsonschema.CompileString(tool.Name+".schema.json", string(raw))
		if err != nil {
			return fmt.Errorf("tool %s has an invalid parameter schema: %w", tool.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s is already registered", tool.Name)
	}
	r.tools[tool.Name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// MustRegister is Register for startup wiring where a failure is fatal.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations renders every registered tool for an LLM call, in name order.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]llm.ToolDeclaration, 0, len(r.tools))
	for _, rt := range r.tools {
		decls = append(decls, llm.ToolDeclaration{
			Name:        rt.tool.Name,
			Description: rt.tool.Description,
			Parameters:  rt.tool.Parameters,
		})
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

func (r *Registry) compiled(name string) (registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt, ok
}
