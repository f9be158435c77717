// Package session implements the session lifecycle state machine and its
// three variants.
//
// A session moves through a fixed set of states:
//
//	pending → running → {completed, timeout, error, cancelled}
//
// Terminal states are absorbing. Start is only valid from pending;
// SendMessage only while running. Whichever terminal path runs first
// (natural completion, timeout, error, or cancellation) settles the
// session's one-shot completion signal; late arrivals see the terminal
// state and leave it alone.
//
// Three variants share the base lifecycle:
//
//   - ChatSession: open-ended conversation over a rolling context window.
//     The idle timer slides on every message.
//   - WorkflowSession: an ordered step iterator with {{key}} interpolation,
//     bounded retry, and manual or automatic continuation. The idle timer
//     is armed once at start, giving an absolute deadline.
//   - ToolSession: open-ended dispatch of tool calls parsed from free text.
//     Tool-level failures come back as readable reply text, never as
//     errors; only lifecycle misuse errors out.
//
// Every session owns its state exclusively: the message log, variables and
// tool registry are never shared between sessions. Public methods are safe
// for concurrent use; overlapping SendMessage calls are serialized by a
// per-session gate so the message log cannot interleave.
//
// Cancellation is cooperative. Cancel marks the terminal state and cancels
// the execution context, but an in-flight step or tool dispatch runs to
// completion; its results are dropped when it finds the session no longer
// running.
package session
