package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// Builtin returns a registry of demonstration tools and an executor that
// runs them. Hosts typically register their own tools; these exist so the
// server is usable out of the box.
func Builtin() (*Registry, Executor) {
	r := NewRegistry()
	r.AddAll([]types.ToolDefinition{
		{
			Name:        "echo",
			Description: "Echo the given text back",
			Parameters: map[string]types.ParamSpec{
				"text": {Type: types.ParamString, Description: "Text to echo"},
			},
			Required: []string{"text"},
		},
		{
			Name:        "time",
			Description: "Current time in RFC3339",
		},
		{
			Name:        "add",
			Description: "Add two numbers",
			Parameters: map[string]types.ParamSpec{
				"a": {Type: types.ParamNumber},
				"b": {Type: types.ParamNumber},
			},
			Required: []string{"a", "b"},
		},
	})

	exec := ExecutorFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		switch name {
		case "echo":
			text, _ := args["text"].(string)
			return text, nil
		case "time":
			return time.Now().Format(time.RFC3339), nil
		case "add":
			a, aok := toFloat(args["a"])
			b, bok := toFloat(args["b"])
			if !aok || !bok {
				return "", fmt.Errorf("add: non-numeric arguments")
			}
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", a+b), "0"), "."), nil
		}
		return "", fmt.Errorf("unknown builtin tool %q", name)
	})

	return r, exec
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
