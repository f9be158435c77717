package types

// Step is one unit of work in a workflow. The prompt template may contain
// {{key}} placeholders resolved against the workflow's variable set; the
// keys "stepIndex" and "stepName" are reserved and always available.
type Step struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Prompt    string         `json:"prompt"`
	Variables map[string]any `json:"variables,omitempty"`

	// ExpectedOutput is a coarse shape check applied to step output:
	// "json", "number", "list", "nonempty", or a literal substring the
	// output must contain. Empty means no check.
	ExpectedOutput string `json:"expectedOutput,omitempty"`

	// TimeoutMS bounds a single execution attempt, in milliseconds.
	// Zero means no per-step bound.
	TimeoutMS int64 `json:"timeout,omitempty"`

	// Produces declares the variables this step yields. Steps that
	// declare nothing contribute nothing to the variable set.
	Produces []Produce `json:"produces,omitempty"`
}

// Produce declares how one variable is extracted from a step's output.
type Produce struct {
	Variable string `json:"variable"`

	// Source is "output" (the raw output text) or "json" (the output is
	// parsed as a JSON object and Key is looked up). Defaults to "output".
	Source string `json:"source,omitempty"`

	// Key is the JSON object key for the "json" source. Defaults to the
	// variable name.
	Key string `json:"key,omitempty"`
}

// StepResult records one completed execution of a step, successful or not.
type StepResult struct {
	StepID   string `json:"stepID"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Time     int64  `json:"time"`

	// Variables is a snapshot of the variable set taken after the step ran.
	Variables map[string]any `json:"variables,omitempty"`
}

// WorkflowOptions controls workflow session behavior. Pointer fields
// distinguish "unset" from an explicit false.
type WorkflowOptions struct {
	AutoContinue *bool `json:"autoContinue,omitempty"`
	StrictOrder  *bool `json:"strictOrder,omitempty"`
	MaxRetries   int   `json:"maxRetries,omitempty"`
}

// WorkflowDocument is an externally supplied workflow definition.
type WorkflowDocument struct {
	ID          string           `json:"id,omitempty"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Steps       []Step           `json:"steps"`
	Options     *WorkflowOptions `json:"options,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
}
