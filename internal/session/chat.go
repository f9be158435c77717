package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// Responder generates a reply from the current turn and the built context.
// It must be pure with respect to session state: the base records the
// turn, the responder only produces text.
type Responder func(ctx context.Context, input, contextText string) (string, error)

// EchoResponder is the default responder: it reflects the input back.
func EchoResponder(ctx context.Context, input, _ string) (string, error) {
	return "You said: " + input, nil
}

// DelayedResponder wraps a responder with a fixed thinking delay that
// respects context cancellation.
func DelayedResponder(delay time.Duration, inner Responder) Responder {
	return func(ctx context.Context, input, contextText string) (string, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return inner(ctx, input, contextText)
	}
}

// ChatConfig configures a conversational session.
type ChatConfig struct {
	Config

	// Context is free-text background prepended to every built context.
	Context string

	// MemoryWindow is how many recent messages feed each turn's context.
	// Defaults to DefaultMemoryWindow.
	MemoryWindow int

	Responder Responder
}

// ChatSession is the open-ended conversational variant. Message activity
// slides the idle timer.
type ChatSession struct {
	*Session

	background string
	window     int
	responder  Responder
}

// NewChat creates a conversational session in the pending state.
func NewChat(cfg ChatConfig) *ChatSession {
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = DefaultMemoryWindow
	}
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder
	}

	c := &ChatSession{
		Session:    newSession(types.KindChat, cfg.Config),
		background: cfg.Context,
		window:     cfg.MemoryWindow,
		responder:  cfg.Responder,
	}
	c.Session.variant = c
	return c
}

// Context returns the background context text.
func (c *ChatSession) Context() string {
	return c.background
}

func (c *ChatSession) execute(ctx context.Context) {
	// Open-ended: nothing to drive. The session stays running until the
	// host cancels it or the idle timer fires.
}

func (c *ChatSession) sliding() bool { return true }

func (c *ChatSession) handleMessage(ctx context.Context, content string) (string, error) {
	return c.responder(ctx, content, c.buildContext())
}

// buildContext concatenates the background context with the last
// memoryWindow messages, oldest first.
func (c *ChatSession) buildContext() string {
	c.mu.Lock()
	msgs := c.messages
	if len(msgs) > c.window {
		msgs = msgs[len(msgs)-c.window:]
	}
	lines := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	c.mu.Unlock()

	window := strings.Join(lines, "\n")
	if c.background == "" {
		return window
	}
	if window == "" {
		return c.background
	}
	return c.background + "\n\n" + window
}

func (c *ChatSession) extendSnapshot(snap *types.Snapshot) {
	// Chat sessions carry no variant-specific snapshot fields.
}

func (c *ChatSession) extendTranscript(t *types.Transcript) {
	t.Context = c.background
}
