package event

import "github.com/sessionkit/sessionkit/pkg/types"

// Type represents the type of event.
type Type string

const (
	SessionStart   Type = "session.start"
	SessionStep    Type = "session.step"
	SessionMessage Type = "session.message"
	ToolCall       Type = "tool.call"
	ToolResult     Type = "tool.result"
	ToolError      Type = "tool.error"
	SessionTimeout Type = "session.timeout"
	SessionError   Type = "session.error"
	SessionEnd     Type = "session.end"
)

// StartData is the payload for SessionStart events.
type StartData struct {
	SessionID string `json:"sessionID"`
}

// StepData is the payload for SessionStep events. Workflow sessions emit
// one per step execution; tool sessions emit a single "ready" step at start.
type StepData struct {
	SessionID string   `json:"sessionID"`
	StepID    string   `json:"stepID,omitempty"`
	Name      string   `json:"name,omitempty"`
	Index     int      `json:"index"`
	Jump      bool     `json:"jump,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// MessageData is the payload for SessionMessage events.
type MessageData struct {
	SessionID string        `json:"sessionID"`
	Message   types.Message `json:"message"`
}

// ToolCallData is the payload for ToolCall events.
type ToolCallData struct {
	SessionID string         `json:"sessionID"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	CallID    string         `json:"callID"`
}

// ToolResultData is the payload for ToolResult events.
type ToolResultData struct {
	SessionID string `json:"sessionID"`
	Tool      string `json:"tool"`
	Result    string `json:"result"`
	CallID    string `json:"callID"`
}

// ToolErrorData is the payload for ToolError events.
type ToolErrorData struct {
	SessionID string `json:"sessionID"`
	Tool      string `json:"tool"`
	Error     string `json:"error"`
	CallID    string `json:"callID"`
}

// TimeoutData is the payload for SessionTimeout events.
type TimeoutData struct {
	SessionID string `json:"sessionID"`
	Timeout   int64  `json:"timeout"`
}

// ErrorData is the payload for SessionError events.
type ErrorData struct {
	SessionID string `json:"sessionID"`
	Error     string `json:"error"`
}

// EndData is the payload for SessionEnd events. Reason is one of
// "completed", "cancelled", "timeout", "error".
type EndData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
}
