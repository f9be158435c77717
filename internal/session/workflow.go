package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/workflow"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// StepRunner executes one step given its interpolated prompt and the
// current variable set. It is the pluggable strategy for workflow
// sessions; the engine owns ordering, retry and variable bookkeeping.
type StepRunner func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error)

// WorkflowConfig configures a workflow session.
type WorkflowConfig struct {
	Config

	Document types.WorkflowDocument
	Runner   StepRunner

	// NewBackOff builds the retry pacing policy for one step. The default
	// retries immediately with no delay between attempts.
	NewBackOff func() backoff.BackOff
}

// WorkflowSession drives an ordered list of steps to completion. The idle
// timer is armed once at start: message activity does not extend it.
type WorkflowSession struct {
	*Session

	doc        types.WorkflowDocument
	opts       workflow.Options
	runner     StepRunner
	newBackOff func() backoff.BackOff

	// advance is the single-slot continuation signal consumed by the step
	// loop in manual mode and set by Continue and JumpToStep.
	advance chan struct{}

	// Guarded by the base mutex.
	idx     int
	jumped  bool
	vars    map[string]any
	results []types.StepResult
	outputs []string
}

// NewWorkflow creates a workflow session. It fails fast when the document
// has no steps or is otherwise malformed.
func NewWorkflow(cfg WorkflowConfig) (*WorkflowSession, error) {
	doc, opts, err := workflow.Normalize(cfg.Document)
	if err != nil {
		return nil, err
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("%w: workflow requires a step runner", workflow.ErrInvalidDocument)
	}

	newBackOff := cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}

	vars := make(map[string]any, len(doc.Variables))
	for k, v := range doc.Variables {
		vars[k] = v
	}

	w := &WorkflowSession{
		Session:    newSession(types.KindWorkflow, cfg.Config),
		doc:        doc,
		opts:       opts,
		runner:     cfg.Runner,
		newBackOff: newBackOff,
		advance:    make(chan struct{}, 1),
		vars:       vars,
	}
	w.Session.variant = w
	return w, nil
}

func (w *WorkflowSession) sliding() bool { return false }

// execute runs the step loop. It terminates the session itself: completed
// when all steps ran, error when a strict-order step exhausts its retries.
func (w *WorkflowSession) execute(ctx context.Context) {
	for {
		w.mu.Lock()
		if w.status != types.StatusRunning {
			w.mu.Unlock()
			return
		}
		if w.idx >= len(w.doc.Steps) {
			output := strings.Join(w.outputs, "\n\n")
			// Lenient order tolerates failed steps; the first one still
			// surfaces on the result.
			var errText string
			for _, r := range w.results {
				if !r.Success {
					errText = r.Error
					break
				}
			}
			w.mu.Unlock()
			w.complete(output, errText)
			return
		}
		idx := w.idx
		step := w.doc.Steps[idx]
		vars := w.interpolationVarsLocked(step)
		w.mu.Unlock()

		prompt := interpolate(step.Prompt, vars, idx, step.Name)
		w.bus.Publish(event.SessionStep, event.StepData{
			SessionID: w.id,
			StepID:    step.ID,
			Name:      step.Name,
			Index:     idx,
		})

		output, attempts, err := w.runStep(ctx, step, prompt, vars)
		if ctx.Err() != nil {
			// Cancelled or timed out mid-step: the terminal transition
			// already happened, drop the outcome.
			return
		}

		if !w.recordStep(step, output, attempts, err) {
			return
		}
		if err != nil && w.opts.StrictOrder {
			w.fail(fmt.Errorf("step %s failed after %d attempts: %w", step.ID, attempts, err))
			return
		}

		if !w.waitAdvance(ctx, idx) {
			return
		}
	}
}

// runStep executes one step under the retry policy. A failed shape check
// counts as a failed attempt.
func (w *WorkflowSession) runStep(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, int, error) {
	var (
		output   string
		attempts int
	)

	op := func() error {
		attempts++
		stepCtx := ctx
		if step.TimeoutMS > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)
			defer cancel()
		}

		out, err := w.runner(stepCtx, step, prompt, vars)
		if err != nil {
			return err
		}
		if err := checkShape(step.ExpectedOutput, out); err != nil {
			return err
		}
		output = out
		return nil
	}

	maxRetries := w.opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(maxRetries-1)), ctx)
	err := backoff.Retry(op, policy)
	return output, attempts, err
}

// recordStep writes the step's ledger entry and merges produced variables.
// It reports false when the session left the running state meanwhile.
func (w *WorkflowSession) recordStep(step types.Step, output string, attempts int, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != types.StatusRunning {
		return false
	}

	result := types.StepResult{
		StepID:   step.ID,
		Attempts: attempts,
		Time:     time.Now().UnixMilli(),
	}

	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		result.Output = output
		w.mergeProducesLocked(step, output)
		w.outputs = append(w.outputs, fmt.Sprintf("[%s] %s", step.ID, output))
	}

	result.Variables = copyVars(w.vars)
	w.results = append(w.results, result)
	return true
}

// mergeProducesLocked applies the step's declared output contract to the
// variable set. Steps declaring nothing contribute nothing.
func (w *WorkflowSession) mergeProducesLocked(step types.Step, output string) {
	var parsed map[string]any
	parsedOK := false

	for _, p := range step.Produces {
		switch p.Source {
		case "", "output":
			w.vars[p.Variable] = strings.TrimSpace(output)
		case "json":
			if !parsedOK {
				if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &parsed); err != nil {
					w.log.Warn().Str("step", step.ID).Err(err).Msg("step output is not a JSON object")
					parsed = nil
				}
				parsedOK = true
			}
			key := p.Key
			if key == "" {
				key = p.Variable
			}
			if value, ok := parsed[key]; ok {
				w.vars[p.Variable] = value
			}
		}
	}
}

// waitAdvance moves the index forward. With autoContinue the advance is
// immediate; otherwise the loop suspends until Continue or JumpToStep
// signals. A jump that changed the index mid-step wins over the normal
// increment.
func (w *WorkflowSession) waitAdvance(ctx context.Context, idxAtStart int) bool {
	// The final step needs no continuation signal: there is nothing left
	// to advance into, so the loop closes out immediately.
	if !w.opts.AutoContinue && idxAtStart+1 < len(w.doc.Steps) {
		select {
		case <-w.advance:
		case <-ctx.Done():
			return false
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != types.StatusRunning {
		return false
	}
	if w.jumped {
		w.jumped = false
	} else if w.idx == idxAtStart {
		w.idx++
	}
	return true
}

// Continue signals a manually-continued workflow to advance to the next
// step. It errors on auto-continuing workflows and outside the running
// state.
func (w *WorkflowSession) Continue() error {
	w.mu.Lock()
	if w.status != types.StatusRunning {
		status := w.status
		w.mu.Unlock()
		return invalidState("continue", status)
	}
	auto := w.opts.AutoContinue
	w.mu.Unlock()

	if auto {
		return ErrAutoContinue
	}
	w.signalAdvance()
	return nil
}

// JumpToStep sets the step index directly, bypassing forward-only
// ordering. Jumping into an already-executed step re-runs it and appends a
// fresh entry to the results ledger.
func (w *WorkflowSession) JumpToStep(stepID string) error {
	w.mu.Lock()
	if w.status != types.StatusRunning {
		status := w.status
		w.mu.Unlock()
		return invalidState("jumpToStep", status)
	}

	target := -1
	for i, step := range w.doc.Steps {
		if step.ID == stepID {
			target = i
			break
		}
	}
	if target < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}

	w.idx = target
	w.jumped = true
	name := w.doc.Steps[target].Name
	w.mu.Unlock()

	w.bus.Publish(event.SessionStep, event.StepData{
		SessionID: w.id,
		StepID:    stepID,
		Name:      name,
		Index:     target,
		Jump:      true,
	})
	w.signalAdvance()
	return nil
}

// signalAdvance sets the single-slot continuation signal; setting an
// already-set slot is a no-op.
func (w *WorkflowSession) signalAdvance() {
	select {
	case w.advance <- struct{}{}:
	default:
	}
}

// handleMessage reports workflow progress; workflow sessions are driven by
// their step loop, not by conversation.
func (w *WorkflowSession) handleMessage(ctx context.Context, content string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	succeeded, failed := 0, 0
	for _, r := range w.results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	if w.idx >= len(w.doc.Steps) {
		return fmt.Sprintf("Workflow finished: %d steps succeeded, %d failed.", succeeded, failed), nil
	}
	step := w.doc.Steps[w.idx]
	return fmt.Sprintf("Workflow at step %d/%d (%s): %d succeeded, %d failed.",
		w.idx+1, len(w.doc.Steps), step.Name, succeeded, failed), nil
}

// Variables returns a copy of the current variable set.
func (w *WorkflowSession) Variables() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyVars(w.vars)
}

// StepResults returns a copy of the results ledger.
func (w *WorkflowSession) StepResults() []types.StepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.StepResult(nil), w.results...)
}

func (w *WorkflowSession) extendSnapshot(snap *types.Snapshot) {
	if w.idx < len(w.doc.Steps) {
		id := w.doc.Steps[w.idx].ID
		snap.CurrentStepID = &id
	}
	snap.Variables = copyVars(w.vars)
	snap.StepResults = append([]types.StepResult(nil), w.results...)
}

func (w *WorkflowSession) extendTranscript(t *types.Transcript) {
	doc := w.doc
	doc.Variables = copyVars(w.vars)
	t.Workflow = &doc
}

// interpolationVarsLocked overlays per-step variables on the workflow set.
func (w *WorkflowSession) interpolationVarsLocked(step types.Step) map[string]any {
	vars := copyVars(w.vars)
	for k, v := range step.Variables {
		vars[k] = v
	}
	return vars
}

func copyVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// interpolate substitutes {{key}} placeholders from the variable set plus
// the reserved stepIndex and stepName keys. Unresolved placeholders are
// left intact.
func interpolate(tmpl string, vars map[string]any, idx int, name string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		switch key {
		case "stepIndex":
			return strconv.Itoa(idx)
		case "stepName":
			return name
		}
		if value, ok := vars[key]; ok {
			return stringify(value)
		}
		return match
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// checkShape applies the coarse expected-output check: "json", "number",
// "list", "nonempty", or a literal substring the output must contain.
func checkShape(expected, output string) error {
	switch expected {
	case "":
		return nil
	case "json":
		if !strings.ContainsAny(output, "{[") {
			return fmt.Errorf("expected JSON-shaped output")
		}
	case "number":
		if _, err := strconv.ParseFloat(strings.TrimSpace(output), 64); err != nil {
			return fmt.Errorf("expected numeric output")
		}
	case "list":
		if !strings.ContainsAny(output, ",\n") {
			return fmt.Errorf("expected list-shaped output")
		}
	case "nonempty":
		if strings.TrimSpace(output) == "" {
			return fmt.Errorf("expected non-empty output")
		}
	default:
		if !strings.Contains(output, expected) {
			return fmt.Errorf("expected output to contain %q", expected)
		}
	}
	return nil
}
