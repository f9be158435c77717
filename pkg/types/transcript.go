package types

// Transcript is the exportable, importable record of a session: enough to
// reconstruct an equivalent session minus live timers and subscribers.
type Transcript struct {
	Context  string             `json:"context,omitempty"`
	Messages []Message          `json:"messages"`
	Tools    []ToolDefinition   `json:"tools,omitempty"`
	Workflow *WorkflowDocument  `json:"workflow,omitempty"`
	Metadata TranscriptMetadata `json:"metadata"`
}

// TranscriptMetadata carries identifying information about the exported
// session.
type TranscriptMetadata struct {
	SessionID    string `json:"sessionID"`
	Kind         Kind   `json:"kind"`
	Created      int64  `json:"created"`
	Updated      int64  `json:"updated"`
	MessageCount int    `json:"messageCount"`
	Endpoint     string `json:"endpoint,omitempty"`
}
