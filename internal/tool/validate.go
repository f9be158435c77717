package tool

import (
	"fmt"
	"sort"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// Validate checks supplied arguments against a tool definition. It returns
// one message per violation: missing required parameters, unknown
// parameters, and primitive type mismatches. An empty slice means the call
// is valid.
func Validate(def types.ToolDefinition, args map[string]any) []string {
	var problems []string

	for _, name := range def.Required {
		if _, ok := args[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	// Deterministic ordering for the itemized reply.
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, declared := def.Parameters[name]
		if !declared {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		if err := checkType(spec.Type, args[name]); err != nil {
			problems = append(problems, fmt.Sprintf("parameter %q: %s", name, err))
		}
	}

	return problems
}

func checkType(want types.ParamType, value any) error {
	if value == nil {
		return fmt.Errorf("expected %s, got null", want)
	}

	switch want {
	case types.ParamString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case types.ParamNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case types.ParamBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	default:
		return fmt.Errorf("unsupported parameter type %q", want)
	}
	return nil
}
