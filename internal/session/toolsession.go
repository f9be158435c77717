package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sessionkit/sessionkit/internal/command"
	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/tool"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// ToolConfig configures a tool-invocation session.
type ToolConfig struct {
	Config

	// Context is free-text background used by the plain-chat fallback.
	Context string

	// Tools are the definitions registered at construction. More can be
	// added later with AddTool/AddTools.
	Tools []types.ToolDefinition

	// Executor runs validated tool calls. Required.
	Executor tool.Executor

	// Responder handles messages that are not tool calls. Defaults to
	// EchoResponder.
	Responder Responder
}

// ToolSession parses tool calls out of inbound messages and dispatches
// them through the executor capability. It never self-completes: it stays
// running until cancelled or timed out. The idle timer is armed once at
// start.
type ToolSession struct {
	*Session

	background string
	registry   *tool.Registry
	executor   tool.Executor
	responder  Responder
}

// NewTools creates a tool-invocation session in the pending state.
func NewTools(cfg ToolConfig) (*ToolSession, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool session requires an executor")
	}
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder
	}

	registry := tool.NewRegistry()
	registry.AddAll(cfg.Tools)

	t := &ToolSession{
		Session:    newSession(types.KindTool, cfg.Config),
		background: cfg.Context,
		registry:   registry,
		executor:   cfg.Executor,
		responder:  cfg.Responder,
	}
	t.Session.variant = t
	return t, nil
}

func (t *ToolSession) sliding() bool { return false }

// execute announces readiness. Tool sessions remain running until the
// host cancels them.
func (t *ToolSession) execute(ctx context.Context) {
	names := t.registry.Names()
	t.bus.Publish(event.SessionStep, event.StepData{
		SessionID: t.id,
		Name:      "ready",
		Tools:     names,
	})
	if len(names) > 0 {
		t.appendMessage(types.RoleSystem, "Available tools: "+strings.Join(names, ", "), nil)
	}
}

func (t *ToolSession) handleMessage(ctx context.Context, content string) (string, error) {
	inv, ok := command.Parse(content)
	if !ok {
		return t.responder(ctx, content, t.background)
	}

	def, found := t.registry.Get(inv.Name)
	if !found {
		return t.unknownToolReply(inv.Name), nil
	}

	if problems := tool.Validate(def, inv.Arguments); len(problems) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Invalid call to %q:\n", inv.Name)
		for _, p := range problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	t.bus.Publish(event.ToolCall, event.ToolCallData{
		SessionID: t.id,
		Tool:      inv.Name,
		Arguments: inv.Arguments,
		CallID:    inv.ID,
	})

	result, err := t.executor.Execute(ctx, inv.Name, inv.Arguments)
	if err != nil {
		t.bus.Publish(event.ToolError, event.ToolErrorData{
			SessionID: t.id,
			Tool:      inv.Name,
			Error:     err.Error(),
			CallID:    inv.ID,
		})
		return fmt.Sprintf("Tool %q failed: %v", inv.Name, err), nil
	}

	t.bus.Publish(event.ToolResult, event.ToolResultData{
		SessionID: t.id,
		Tool:      inv.Name,
		Result:    result,
		CallID:    inv.ID,
	})
	t.appendAudit(inv, result)

	return fmt.Sprintf("Tool %q succeeded.\nResult: %s", inv.Name, result), nil
}

// unknownToolReply enumerates the registered tools and, when one is
// plausibly close, suggests it.
func (t *ToolSession) unknownToolReply(name string) string {
	names := t.registry.Names()
	reply := fmt.Sprintf("Unknown tool %q.", name)
	if len(names) == 0 {
		return reply + " No tools are registered."
	}
	reply += " Registered tools: " + strings.Join(names, ", ") + "."
	if suggestion := t.registry.Suggest(name); suggestion != "" {
		reply += fmt.Sprintf(" Did you mean %q?", suggestion)
	}
	return reply
}

// appendAudit records a system-role audit message for a dispatched call.
func (t *ToolSession) appendAudit(inv *types.ToolInvocation, result string) {
	args, err := json.Marshal(inv.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	content := fmt.Sprintf("tool %s called with %s; result: %s", inv.Name, args, result)
	t.appendMessage(types.RoleSystem, content, map[string]any{"callID": inv.ID, "tool": inv.Name})
}

// AddTool registers a tool. Re-adding an existing name is a no-op.
func (t *ToolSession) AddTool(def types.ToolDefinition) bool {
	return t.registry.Add(def)
}

// AddTools registers several tools, skipping names already present.
func (t *ToolSession) AddTools(defs []types.ToolDefinition) {
	t.registry.AddAll(defs)
}

// GetTools returns a defensive copy of the registered definitions.
func (t *ToolSession) GetTools() []types.ToolDefinition {
	return t.registry.List()
}

func (t *ToolSession) extendSnapshot(snap *types.Snapshot) {
	snap.Tools = t.registry.Names()
}

func (t *ToolSession) extendTranscript(tr *types.Transcript) {
	tr.Context = t.background
	tr.Tools = t.registry.List()
}
