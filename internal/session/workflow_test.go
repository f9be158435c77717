package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/workflow"
	"github.com/sessionkit/sessionkit/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

// echoRunner returns the interpolated prompt as the step output.
func echoRunner(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
	return prompt, nil
}

func waitFor(t *testing.T, s interface {
	WaitUntilEnd(ctx context.Context) (types.Result, error)
}) types.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := s.WaitUntilEnd(ctx)
	require.NoError(t, err)
	return res
}

func TestWorkflowInterpolatesVariables(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Variables: map[string]any{"data": "X"},
			Steps: []types.Step{
				{ID: "analyze", Prompt: "analyze {{data}}"},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Contains(t, res.Output, "analyze X")

	results := w.StepResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "analyze X", results[0].Output)
	assert.Equal(t, 1, results[0].Attempts)
}

func TestWorkflowReservedPlaceholders(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Steps: []types.Step{
				{ID: "s1", Name: "first", Prompt: "step {{stepIndex}} is {{stepName}}, {{missing}} stays"},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Contains(t, res.Output, "step 0 is first, {{missing}} stays")
}

func TestWorkflowStepVariableOverlay(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Variables: map[string]any{"tone": "formal"},
			Steps: []types.Step{
				{ID: "a", Prompt: "write {{tone}}"},
				{ID: "b", Prompt: "write {{tone}}", Variables: map[string]any{"tone": "casual"}},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Contains(t, res.Output, "[a] write formal")
	assert.Contains(t, res.Output, "[b] write casual")
	// The overlay is per-step only; the workflow set is untouched.
	assert.Equal(t, "formal", w.Variables()["tone"])
}

func TestWorkflowProducesMergeIntoVariables(t *testing.T) {
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		if step.ID == "detect" {
			return `{"lang":"go","confidence":0.9}`, nil
		}
		return prompt, nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Steps: []types.Step{
				{
					ID:     "detect",
					Prompt: "detect language",
					Produces: []types.Produce{
						{Variable: "lang", Source: "json"},
						{Variable: "raw"},
					},
				},
				{ID: "report", Prompt: "language is {{lang}}"},
			},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Contains(t, res.Output, "language is go")

	vars := w.Variables()
	assert.Equal(t, "go", vars["lang"])
	assert.Equal(t, `{"lang":"go","confidence":0.9}`, vars["raw"])
}

func TestWorkflowRetrySucceedsWithinBudget(t *testing.T) {
	var calls int
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("transient failure %d", calls)
		}
		return "done", nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{MaxRetries: 3},
			Steps:   []types.Step{{ID: "flaky", Prompt: "try"}},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	results := w.StepResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestWorkflowRetryExhaustionStrictOrder(t *testing.T) {
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		return "", fmt.Errorf("permanent failure")
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{MaxRetries: 2},
			Steps: []types.Step{
				{ID: "doomed", Prompt: "try"},
				{ID: "never", Prompt: "unreachable"},
			},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, "doomed")
	assert.Contains(t, res.Error, "2 attempts")

	results := w.StepResults()
	require.Len(t, results, 1, "strict order halts before the next step")
	assert.False(t, results[0].Success)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestWorkflowLenientOrderContinuesPastFailure(t *testing.T) {
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		if step.ID == "bad" {
			return "", fmt.Errorf("boom")
		}
		return prompt, nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{StrictOrder: boolPtr(false), MaxRetries: 1},
			Steps: []types.Step{
				{ID: "bad", Prompt: "fail"},
				{ID: "good", Prompt: "recover"},
			},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.NotContains(t, res.Output, "[bad]")
	assert.Contains(t, res.Output, "[good] recover")
	assert.Contains(t, res.Error, "boom")

	results := w.StepResults()
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestWorkflowExpectedOutputShapeRetries(t *testing.T) {
	var calls int
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		calls++
		if calls == 1 {
			return "not a number", nil
		}
		return "42", nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{MaxRetries: 2},
			Steps:   []types.Step{{ID: "count", Prompt: "count", ExpectedOutput: "number"}},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	results := w.StepResults()
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Attempts)
	assert.Equal(t, "42", results[0].Output)
}

func TestWorkflowManualContinuation(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{AutoContinue: boolPtr(false)},
			Steps: []types.Step{
				{ID: "a", Prompt: "first"},
				{ID: "b", Prompt: "second"},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())

	// The first step runs, then the loop suspends waiting for Continue.
	require.Eventually(t, func() bool {
		return len(w.StepResults()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.StatusRunning, w.Status())

	require.NoError(t, w.Continue())
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Len(t, w.StepResults(), 2)
}

func TestWorkflowContinueOnAutoModeRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "ok", nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Steps: []types.Step{{ID: "slow", Prompt: "wait"}},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	<-started

	err = w.Continue()
	assert.ErrorIs(t, err, ErrAutoContinue)

	close(release)
	waitFor(t, w)
}

func TestWorkflowJumpToStep(t *testing.T) {
	visits := make(chan string, 16)
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		visits <- step.ID
		return "ok", nil
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{AutoContinue: boolPtr(false)},
			Steps: []types.Step{
				{ID: "a", Prompt: "one"},
				{ID: "b", Prompt: "two"},
				{ID: "c", Prompt: "three"},
			},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	var jumps []event.StepData
	var mu sync.Mutex
	w.Subscribe(event.SessionStep, func(ev event.Event) {
		data := ev.Data.(event.StepData)
		if data.Jump {
			mu.Lock()
			jumps = append(jumps, data)
			mu.Unlock()
		}
	})

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return len(w.StepResults()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Jump back into the step that just ran; it executes again.
	require.NoError(t, w.JumpToStep("a"))
	require.Eventually(t, func() bool { return len(w.StepResults()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Then skip ahead over b straight to c, the final step.
	require.NoError(t, w.JumpToStep("c"))
	res := waitFor(t, w)

	assert.Equal(t, types.StatusCompleted, res.Status)

	close(visits)
	var order []string
	for id := range visits {
		order = append(order, id)
	}
	assert.Equal(t, []string{"a", "a", "c"}, order)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, jumps, 2)
	assert.Equal(t, "a", jumps[0].StepID)
	assert.Equal(t, "c", jumps[1].StepID)
}

func TestWorkflowJumpToUnknownStep(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{AutoContinue: boolPtr(false)},
			Steps: []types.Step{
				{ID: "a", Prompt: "one"},
				{ID: "b", Prompt: "two"},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return len(w.StepResults()) == 1 }, 2*time.Second, 10*time.Millisecond)

	err = w.JumpToStep("nope")
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.Equal(t, types.StatusRunning, w.Status())

	w.Cancel()
}

func TestWorkflowMessageReportsProgress(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{AutoContinue: boolPtr(false)},
			Steps: []types.Step{
				{ID: "a", Name: "alpha", Prompt: "one"},
				{ID: "b", Name: "beta", Prompt: "two"},
			},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return len(w.StepResults()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// The index advances only on Continue, so progress still points at the
	// step that just ran.
	reply, err := w.SendMessage(context.Background(), "status?")
	require.NoError(t, err)
	assert.Contains(t, reply, "alpha")
	assert.Contains(t, reply, "1 succeeded")
}

func TestWorkflowCancelMidRun(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	runner := func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}

	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Steps: []types.Step{{ID: "hang", Prompt: "forever"}},
		},
		Runner: runner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	<-started

	res := w.Cancel()
	assert.Equal(t, types.StatusCancelled, res.Status)
	assert.Empty(t, w.StepResults(), "an interrupted step leaves no ledger entry")
}

func TestWorkflowRejectsEmptyDocument(t *testing.T) {
	_, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{},
		Runner:   echoRunner,
	})
	assert.ErrorIs(t, err, workflow.ErrNoSteps)
}

func TestWorkflowRequiresRunner(t *testing.T) {
	_, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Steps: []types.Step{{ID: "a", Prompt: "one"}},
		},
	})
	assert.ErrorIs(t, err, workflow.ErrInvalidDocument)
}

func TestWorkflowSnapshotTracksCurrentStep(t *testing.T) {
	w, err := NewWorkflow(WorkflowConfig{
		Document: types.WorkflowDocument{
			Options: &types.WorkflowOptions{AutoContinue: boolPtr(false)},
			Steps: []types.Step{
				{ID: "a", Prompt: "one"},
				{ID: "b", Prompt: "two"},
			},
			Variables: map[string]any{"k": "v"},
		},
		Runner: echoRunner,
	})
	require.NoError(t, err)
	defer w.Cleanup()

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return len(w.StepResults()) == 1 }, 2*time.Second, 10*time.Millisecond)

	snap := w.Snapshot()
	assert.Equal(t, types.KindWorkflow, snap.Kind)
	require.NotNil(t, snap.CurrentStepID)
	assert.Equal(t, "a", *snap.CurrentStepID, "index advances only on continue")
	assert.Equal(t, "v", snap.Variables["k"])
	assert.Len(t, snap.StepResults, 1)

	w.Cancel()
}

func TestCheckShape(t *testing.T) {
	cases := []struct {
		expected string
		output   string
		ok       bool
	}{
		{"", "anything", true},
		{"json", `{"a":1}`, true},
		{"json", "plain", false},
		{"number", " 3.5 ", true},
		{"number", "three", false},
		{"list", "a,b,c", true},
		{"list", "single", false},
		{"nonempty", "  ", false},
		{"nonempty", "x", true},
		{"DONE", "task DONE ok", true},
		{"DONE", "task failed", false},
	}
	for _, tc := range cases {
		err := checkShape(tc.expected, tc.output)
		if tc.ok {
			assert.NoError(t, err, "expected=%q output=%q", tc.expected, tc.output)
		} else {
			assert.Error(t, err, "expected=%q output=%q", tc.expected, tc.output)
		}
	}
}
