// Package types provides the core data types for the session engine.
package types

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
// Terminal states are absorbing: no transition leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimeout, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Kind identifies the session variant.
type Kind string

const (
	KindChat     Kind = "chat"
	KindWorkflow Kind = "workflow"
	KindTool     Kind = "tool"
)

// Result is the final outcome of a session, available once it reaches a
// terminal state.
type Result struct {
	Status Status `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is a read-only point-in-time summary of session state.
// Variant-specific fields are nil/empty when they do not apply.
type Snapshot struct {
	ID       string      `json:"id"`
	Kind     Kind        `json:"kind"`
	Status   Status      `json:"status"`
	Messages []Message   `json:"messages"`
	Time     SessionTime `json:"time"`

	// Workflow sessions only.
	CurrentStepID *string        `json:"currentStepID,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	StepResults   []StepResult   `json:"stepResults,omitempty"`

	// Tool sessions only.
	Tools []string `json:"tools,omitempty"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Started *int64 `json:"started,omitempty"`
}
