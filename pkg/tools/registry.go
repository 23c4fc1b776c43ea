package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/parley-dev/parley/pkg/ai"
)

// Registry holds all registered tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Definition().Name
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: tool %q already registered", name))
	}
	r.tools[name] = t
}

// RegisterOrReplace adds or replaces a tool.
func (r *Registry) RegisterOrReplace(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Get retrieves a tool by name. Returns nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove removes a tool by name. No-op if not found.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Definitions returns the schemas for the named tools, in the given
// order. Names without a registered tool are skipped; a nil allowlist
// selects every registered tool.
func (r *Registry) Definitions(allow []string) []ai.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if allow == nil {
		allow = make([]string, 0, len(r.tools))
		for n := range r.tools {
			allow = append(allow, n)
		}
		sort.Strings(allow)
	}
	defs := make([]ai.ToolDefinition, 0, len(allow))
	for _, name := range allow {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Execute looks up the call's tool, validates and coerces its arguments
// against the declared schema, and runs it. Validation and execution
// failures are returned as errors for the caller to fold into history.
func (r *Registry) Execute(ctx context.Context, call ai.ToolCall) (string, error) {
	t := r.Get(call.Name)
	if t == nil {
		return "", fmt.Errorf("tool %q is not registered", call.Name)
	}
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("tool %q arguments are not a JSON object: %w", call.Name, err)
		}
	}
	args, err := ValidateAndCoerce(t, args)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, args)
}
