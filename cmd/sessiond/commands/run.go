package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/session"
	"github.com/sessionkit/sessionkit/internal/workflow"
	"github.com/sessionkit/sessionkit/pkg/types"
)

var (
	runVars    []string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Run a workflow document to completion",
	Long: `Run a workflow document (JSON, JSONC or YAML) from the command
line, printing step progress and the final output.

Steps are executed with the engine's echo runner: each step's output is
its interpolated prompt. Variables can be supplied with --var.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Workflow variable as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "Overall session timeout")
}

func runRun(cmd *cobra.Command, args []string) error {
	if _, _, err := loadConfig(); err != nil {
		return err
	}

	loaded, err := workflow.Load(args[0])
	if err != nil {
		return err
	}
	doc := *loaded

	if len(runVars) > 0 {
		if doc.Variables == nil {
			doc.Variables = make(map[string]any, len(runVars))
		}
		for _, pair := range runVars {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --var %q, expected key=value", pair)
			}
			doc.Variables[key] = value
		}
	}

	w, err := session.NewWorkflow(session.WorkflowConfig{
		Config:   session.Config{Timeout: runTimeout},
		Document: doc,
		Runner: func(ctx context.Context, step types.Step, prompt string, vars map[string]any) (string, error) {
			return prompt, nil
		},
	})
	if err != nil {
		return err
	}
	defer w.Cleanup()

	w.Subscribe(event.SessionStep, func(ev event.Event) {
		if data, ok := ev.Data.(event.StepData); ok {
			fmt.Printf("step %d: %s\n", data.Index+1, data.Name)
		}
	})

	if err := w.Start(); err != nil {
		return err
	}

	res, err := w.WaitUntilEnd(cmd.Context())
	if err != nil {
		return err
	}

	switch res.Status {
	case types.StatusCompleted:
		fmt.Println()
		fmt.Println(res.Output)
		return nil
	case types.StatusError:
		return fmt.Errorf("workflow failed: %s", res.Error)
	default:
		return fmt.Errorf("workflow ended with status %s", res.Status)
	}
}
