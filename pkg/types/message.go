package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's ordered message log.
// The log is append-only while the session is running; a configured
// retention policy may drop the oldest entries.
type Message struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Time     int64          `json:"time"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
