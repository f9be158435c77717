package types

// Config is the engine configuration loaded by internal/config.
type Config struct {
	LogLevel  string         `json:"logLevel,omitempty"`
	PrettyLog bool           `json:"prettyLog,omitempty"`
	Server    ServerConfig   `json:"server,omitempty"`
	Defaults  DefaultsConfig `json:"defaults,omitempty"`

	// WorkflowDir is a directory of workflow documents loaded into the
	// workflow library at startup.
	WorkflowDir string `json:"workflowDir,omitempty"`

	// HistoryDir is where terminal sessions persist their transcripts.
	// Empty disables persistence.
	HistoryDir string `json:"historyDir,omitempty"`
}

// ServerConfig holds HTTP host settings.
type ServerConfig struct {
	Port       int  `json:"port,omitempty"`
	EnableCORS bool `json:"enableCORS,omitempty"`
}

// DefaultsConfig holds per-session defaults applied when a session is
// created without explicit values.
type DefaultsConfig struct {
	TimeoutMS    int64 `json:"timeout,omitempty"`
	MemoryWindow int   `json:"memoryWindow,omitempty"`
	MaxRetries   int   `json:"maxRetries,omitempty"`
	MaxMessages  int   `json:"maxMessages,omitempty"`
}
