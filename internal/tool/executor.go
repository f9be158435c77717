package tool

import "context"

// Executor is the capability a host supplies to actually run tools.
// The engine depends only on this shape.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (string, error)

// Execute calls the underlying function.
func (f ExecutorFunc) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}
