// Package tool provides tool definitions, registration and validation for
// tool-invocation sessions.
package tool

import (
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// maxSuggestDistance bounds how far a name can be from a registered tool
// before we stop offering it as a suggestion.
const maxSuggestDistance = 3

// Registry manages tool registration and lookup. Registration is
// idempotent by name: re-adding an existing name is a no-op.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]types.ToolDefinition
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]types.ToolDefinition)}
}

// Add registers a tool. It returns false when a tool with the same name is
// already present, leaving the existing definition untouched.
func (r *Registry) Add(def types.ToolDefinition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return false
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return true
}

// AddAll registers each definition in turn, skipping names already present.
func (r *Registry) AddAll(defs []types.ToolDefinition) {
	for _, def := range defs {
		r.Add(def)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (types.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns a defensive copy of all definitions in registration order.
func (r *Registry) List() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Suggest returns the registered name closest to the given one by
// Levenshtein distance, or "" when nothing is plausibly close.
func (r *Registry) Suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestDist := maxSuggestDistance + 1
	for _, candidate := range r.order {
		if dist := levenshtein.ComputeDistance(name, candidate); dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}
