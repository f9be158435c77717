// Package workflow loads and validates workflow documents and keeps a
// directory-backed library of them.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// DefaultMaxRetries is the per-step retry bound applied when a document
// does not set one.
const DefaultMaxRetries = 3

var (
	// ErrNoSteps rejects documents with a missing or empty steps list.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrInvalidDocument rejects documents that are otherwise malformed.
	ErrInvalidDocument = errors.New("invalid workflow document")
)

// Options is the normalized form of types.WorkflowOptions with defaults
// applied: autoContinue=true, strictOrder=true, maxRetries=3.
type Options struct {
	AutoContinue bool
	StrictOrder  bool
	MaxRetries   int
}

// Normalize validates a document and fills in defaults: step IDs
// ("step-N"), step names, and option defaults. It fails fast on a missing
// or empty steps list, empty prompts, and duplicate step IDs.
func Normalize(doc types.WorkflowDocument) (types.WorkflowDocument, Options, error) {
	if len(doc.Steps) == 0 {
		return types.WorkflowDocument{}, Options{}, ErrNoSteps
	}

	out := doc
	out.Steps = append([]types.Step(nil), doc.Steps...)

	seen := make(map[string]bool, len(out.Steps))
	for i := range out.Steps {
		step := &out.Steps[i]
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		if step.Name == "" {
			step.Name = step.ID
		}
		if strings.TrimSpace(step.Prompt) == "" {
			return types.WorkflowDocument{}, Options{}, fmt.Errorf("%w: step %s has no prompt", ErrInvalidDocument, step.ID)
		}
		if seen[step.ID] {
			return types.WorkflowDocument{}, Options{}, fmt.Errorf("%w: duplicate step id %s", ErrInvalidDocument, step.ID)
		}
		seen[step.ID] = true
	}

	opts := Options{AutoContinue: true, StrictOrder: true, MaxRetries: DefaultMaxRetries}
	if o := doc.Options; o != nil {
		if o.AutoContinue != nil {
			opts.AutoContinue = *o.AutoContinue
		}
		if o.StrictOrder != nil {
			opts.StrictOrder = *o.StrictOrder
		}
		if o.MaxRetries > 0 {
			opts.MaxRetries = o.MaxRetries
		}
	}

	return out, opts, nil
}

// ParseJSON parses a JSON or JSONC document.
func ParseJSON(data []byte) (*types.WorkflowDocument, error) {
	var doc types.WorkflowDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// ParseYAML parses a YAML document. YAML is decoded generically and then
// routed through the JSON field mapping so both formats share one schema.
func ParseYAML(data []byte) (*types.WorkflowDocument, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	bridged, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var doc types.WorkflowDocument
	if err := json.Unmarshal(bridged, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// Load reads a workflow document from disk, choosing the parser by file
// extension, and validates it.
func Load(path string) (*types.WorkflowDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}

	var doc *types.WorkflowDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = ParseYAML(data)
	case ".json", ".jsonc":
		doc, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported extension %s", ErrInvalidDocument, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	normalized, _, err := Normalize(*doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &normalized, nil
}
