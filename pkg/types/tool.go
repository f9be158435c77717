package types

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// ToolDefinition describes a tool that can be invoked from a session.
type ToolDefinition struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// ToolInvocation is a parsed, type-coerced request to execute a named tool.
type ToolInvocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
