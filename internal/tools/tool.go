// Package tools holds the diagnostic capabilities the investigation stage
// consults before asking the model for a root cause.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTool is returned by Registry.Execute for an unregistered name.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a named capability that takes JSON params and returns a JSON result.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Registry holds available tools keyed by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools registered.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry, keyed by its Name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name, returns the tool and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs the named tool. params may be nil, which is treated as "{}".
func (r *Registry) Execute(ctx context.Context, name string, params any) (json.RawMessage, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	raw := json.RawMessage(`{}`)
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal params: %w", name, err)
		}
		raw = b
	}
	return t.Execute(ctx, raw)
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
