// Package tools provides the built-in tools bound to chat models.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolID identifies a built-in tool
type ToolID string

// ToolCategory represents the category of a tool
type ToolCategory string

const (
	CategoryDiagram ToolCategory = "diagram"
)

// ToolDefinition describes a built-in tool
type ToolDefinition struct {
	ID          ToolID       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Dangerous   bool         `json:"dangerous"` // Whether this tool can modify the diagram
}

// ToolFactory is a function that creates a tool instance
type ToolFactory func(ctx *ToolContext) tool.InvokableTool

// Registry manages built-in tools
type Registry struct {
	mu          sync.RWMutex
	definitions map[ToolID]ToolDefinition
	factories   map[ToolID]ToolFactory
}

// NewRegistry returns a registry with the diagram tools registered.
func NewRegistry() *Registry {
	r := &Registry{
		definitions: make(map[ToolID]ToolDefinition),
		factories:   make(map[ToolID]ToolFactory),
	}
	registerDiagramTools(r)
	return r
}

// Register registers a tool with its definition and factory
func (r *Registry) Register(def ToolDefinition, factory ToolFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.ID] = def
	r.factories[def.ID] = factory
}

// GetTool returns an invokable tool by ID
func (r *Registry) GetTool(id ToolID, ctx *ToolContext) (tool.InvokableTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[id]
	if !exists {
		return nil, fmt.Errorf("unknown tool: %s", id)
	}
	return factory(ctx), nil
}

// ListToolDefinitions returns all tool definitions sorted by category and name
func (r *Registry) ListToolDefinitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Toolset is a set of instantiated tools for one model call.
type Toolset struct {
	tools map[string]tool.InvokableTool
	infos []*schema.ToolInfo
}

// Toolset instantiates the given tools (all of them when ids is empty).
func (r *Registry) Toolset(ctx context.Context, tc *ToolContext, ids ...ToolID) (*Toolset, error) {
	if len(ids) == 0 {
		for _, def := range r.ListToolDefinitions() {
			ids = append(ids, def.ID)
		}
	}
	ts := &Toolset{tools: make(map[string]tool.InvokableTool, len(ids))}
	for _, id := range ids {
		t, err := r.GetTool(id, tc)
		if err != nil {
			return nil, err
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", id, err)
		}
		ts.tools[info.Name] = t
		ts.infos = append(ts.infos, info)
	}
	return ts, nil
}

// Infos returns the tool descriptions to bind to a chat model.
func (t *Toolset) Infos() []*schema.ToolInfo {
	return t.infos
}

// Invoke runs the tool named by call and returns its textual result.
func (t *Toolset) Invoke(ctx context.Context, call schema.ToolCall) (string, error) {
	it, ok := t.tools[call.Function.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
	args, err := RepairArguments(call.Function.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return it.InvokableRun(ctx, args)
}
