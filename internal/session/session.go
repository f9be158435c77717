package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// DefaultMemoryWindow is the number of recent messages a chat session
// includes in its rolling context.
const DefaultMemoryWindow = 10

// Config holds settings common to all session variants.
type Config struct {
	// Timeout is the idle time-to-live. Zero disables the timer.
	Timeout time.Duration

	// MaxMessages caps the message log; the oldest entries beyond the cap
	// are dropped. Zero means unbounded.
	MaxMessages int

	// AutoCleanupThreshold/AutoCleanupRetain form a more aggressive
	// retention pair: once the log reaches the threshold, only the most
	// recent retain-count messages are kept. Zero threshold disables it.
	AutoCleanupThreshold int
	AutoCleanupRetain    int

	// Endpoint is an opaque host label carried into exported transcripts.
	Endpoint string
}

// variant is the closed set of session behaviors. All variant methods that
// touch variant state are called either with the base mutex held
// (extendSnapshot, extendTranscript) or from contexts that take it
// themselves (execute, handleMessage).
type variant interface {
	// execute runs the variant's work after Start. Open-ended variants
	// return quickly and leave the session running; the workflow variant
	// drives its step loop here and completes or fails the session.
	execute(ctx context.Context)

	// handleMessage produces the reply for one inbound message.
	handleMessage(ctx context.Context, content string) (string, error)

	// sliding reports whether message activity re-arms the idle timer.
	sliding() bool

	extendSnapshot(snap *types.Snapshot)
	extendTranscript(t *types.Transcript)
}

// Session is the lifecycle state machine shared by all variants.
type Session struct {
	id   string
	kind types.Kind
	cfg  Config
	bus  *event.Bus
	log  zerolog.Logger

	// gate serializes SendMessage calls so interleaved invocations cannot
	// interleave the message log.
	gate chan struct{}

	mu       sync.Mutex
	status   types.Status
	messages []types.Message
	created  int64
	updated  int64
	started  *int64
	timer    *time.Timer
	result   *types.Result

	done       chan struct{}
	settleOnce sync.Once

	execCtx    context.Context
	execCancel context.CancelFunc

	variant variant
}

// newSession creates the base machinery in the pending state. The caller
// wires the variant before returning the session to users.
func newSession(kind types.Kind, cfg Config) *Session {
	now := time.Now().UnixMilli()
	ctx, cancel := context.WithCancel(context.Background())
	id := newID()

	return &Session{
		id:         id,
		kind:       kind,
		cfg:        cfg,
		bus:        event.NewBus(),
		log:        logging.Component("session").With().Str("session", id).Logger(),
		gate:       make(chan struct{}, 1),
		status:     types.StatusPending,
		created:    now,
		updated:    now,
		done:       make(chan struct{}),
		execCtx:    ctx,
		execCancel: cancel,
	}
}

// newID generates a new ULID.
func newID() string {
	return ulid.Make().String()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Kind returns the session variant kind.
func (s *Session) Kind() types.Kind {
	return s.kind
}

// Status returns the current lifecycle status.
func (s *Session) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start transitions the session from pending to running, arms the idle
// timer, emits the start event, and begins the variant's work without
// waiting for it to finish.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != types.StatusPending {
		status := s.status
		s.mu.Unlock()
		return invalidState("start", status)
	}

	now := time.Now().UnixMilli()
	s.status = types.StatusRunning
	s.started = &now
	s.updated = now
	s.armTimerLocked()
	s.mu.Unlock()

	s.log.Info().Str("kind", string(s.kind)).Msg("session started")
	s.bus.Publish(event.SessionStart, event.StartData{SessionID: s.id})

	go s.variant.execute(s.execCtx)
	return nil
}

// SendMessage appends a user message, invokes the variant's handler, and
// appends the reply as an assistant message. Calls are serialized: a
// second SendMessage waits for the first to finish.
func (s *Session) SendMessage(ctx context.Context, content string) (string, error) {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.gate }()

	s.mu.Lock()
	if s.status != types.StatusRunning {
		status := s.status
		s.mu.Unlock()
		return "", invalidState("sendMessage", status)
	}
	if s.variant.sliding() {
		s.armTimerLocked()
	}
	s.mu.Unlock()

	if _, ok := s.appendMessage(types.RoleUser, content, nil); !ok {
		return "", invalidState("sendMessage", s.Status())
	}

	reply, err := s.variant.handleMessage(ctx, content)
	if err != nil {
		s.fail(err)
		return "", err
	}

	// The session may have been cancelled or timed out while the handler
	// ran; appendMessage drops the reply in that case.
	s.appendMessage(types.RoleAssistant, reply, nil)
	return reply, nil
}

// appendMessage appends to the log and publishes the message event. It
// reports false without mutating anything when the session is not running.
func (s *Session) appendMessage(role types.Role, content string, metadata map[string]any) (types.Message, bool) {
	s.mu.Lock()
	if s.status != types.StatusRunning {
		s.mu.Unlock()
		return types.Message{}, false
	}

	now := time.Now().UnixMilli()
	msg := types.Message{
		ID:       newID(),
		Role:     role,
		Content:  content,
		Time:     now,
		Metadata: metadata,
	}
	s.messages = append(s.messages, msg)
	s.applyRetentionLocked()
	s.updated = now
	s.mu.Unlock()

	s.bus.Publish(event.SessionMessage, event.MessageData{SessionID: s.id, Message: msg})
	return msg, true
}

// applyRetentionLocked enforces the configured retention policy.
func (s *Session) applyRetentionLocked() {
	if s.cfg.AutoCleanupThreshold > 0 && len(s.messages) >= s.cfg.AutoCleanupThreshold {
		retain := s.cfg.AutoCleanupRetain
		if retain <= 0 {
			retain = s.cfg.AutoCleanupThreshold / 2
		}
		if len(s.messages) > retain {
			s.messages = append([]types.Message(nil), s.messages[len(s.messages)-retain:]...)
		}
		return
	}

	if s.cfg.MaxMessages > 0 && len(s.messages) > s.cfg.MaxMessages {
		s.messages = append([]types.Message(nil), s.messages[len(s.messages)-s.cfg.MaxMessages:]...)
	}
}

// Cancel terminates a non-terminal session. On an already-terminal session
// it is an idempotent read returning the existing result.
func (s *Session) Cancel() types.Result {
	s.mu.Lock()
	if s.result != nil {
		res := *s.result
		s.mu.Unlock()
		return res
	}

	s.status = types.StatusCancelled
	s.stopTimerLocked()
	res := types.Result{Status: types.StatusCancelled}
	s.result = &res
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.execCancel()
	s.log.Info().Msg("session cancelled")
	s.bus.Publish(event.SessionEnd, event.EndData{SessionID: s.id, Reason: "cancelled"})
	s.settle()
	return res
}

// complete is called by variants on natural completion. No-op unless the
// session is still running. A non-empty errText records failures the run
// tolerated without making the outcome an error state.
func (s *Session) complete(output, errText string) {
	s.mu.Lock()
	if s.status != types.StatusRunning {
		s.mu.Unlock()
		return
	}

	s.status = types.StatusCompleted
	s.stopTimerLocked()
	res := types.Result{Status: types.StatusCompleted, Output: output, Error: errText}
	s.result = &res
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.execCancel()
	s.log.Info().Msg("session completed")
	s.bus.Publish(event.SessionEnd, event.EndData{SessionID: s.id, Reason: "completed"})
	s.settle()
}

// fail moves a running session to the error state.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.status != types.StatusRunning {
		s.mu.Unlock()
		return
	}

	s.status = types.StatusError
	s.stopTimerLocked()
	res := types.Result{Status: types.StatusError, Error: err.Error()}
	s.result = &res
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.execCancel()
	s.log.Error().Err(err).Msg("session failed")
	s.bus.Publish(event.SessionError, event.ErrorData{SessionID: s.id, Error: err.Error()})
	s.bus.Publish(event.SessionEnd, event.EndData{SessionID: s.id, Reason: "error", Error: err.Error()})
	s.settle()
}

// handleTimeout fires from the idle timer. A cancel racing with an
// already-fired timer is harmless: the status re-check below ignores the
// callback once the session left the running state.
func (s *Session) handleTimeout() {
	s.mu.Lock()
	if s.status != types.StatusRunning {
		s.mu.Unlock()
		return
	}

	s.status = types.StatusTimeout
	s.timer = nil
	res := types.Result{Status: types.StatusTimeout}
	s.result = &res
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.execCancel()
	s.log.Info().Dur("timeout", s.cfg.Timeout).Msg("session timed out")
	s.bus.Publish(event.SessionTimeout, event.TimeoutData{SessionID: s.id, Timeout: s.cfg.Timeout.Milliseconds()})
	s.bus.Publish(event.SessionEnd, event.EndData{SessionID: s.id, Reason: "timeout"})
	s.settle()
}

// armTimerLocked (re)arms the idle timer. The timer exists only while the
// session is running with a positive timeout configured.
func (s *Session) armTimerLocked() {
	if s.cfg.Timeout <= 0 || s.status != types.StatusRunning {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Timeout, s.handleTimeout)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// settle closes the one-shot completion signal exactly once.
func (s *Session) settle() {
	s.settleOnce.Do(func() { close(s.done) })
}

// WaitUntilEnd blocks until the session reaches a terminal state or ctx is
// done. On an already-terminal session it returns immediately.
func (s *Session) WaitUntilEnd(ctx context.Context) (types.Result, error) {
	s.mu.Lock()
	if s.result != nil {
		res := *s.result
		s.mu.Unlock()
		return res, nil
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	}
}

// Result returns the terminal result, or a result carrying the current
// status when the session has not ended yet.
func (s *Session) Result() types.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return *s.result
	}
	return types.Result{Status: s.status}
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]types.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Snapshot assembles a read-only view of the session. Variant extras are
// filled in by the active variant; nothing is mutated.
func (s *Session) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.Snapshot{
		ID:       s.id,
		Kind:     s.kind,
		Status:   s.status,
		Messages: append([]types.Message(nil), s.messages...),
		Time: types.SessionTime{
			Created: s.created,
			Updated: s.updated,
			Started: s.started,
		},
	}
	s.variant.extendSnapshot(&snap)
	return snap
}

// Subscribe registers a handler for one event type; the returned function
// unsubscribes it.
func (s *Session) Subscribe(t event.Type, fn event.Subscriber) func() {
	return s.bus.Subscribe(t, fn)
}

// SubscribeAll registers a handler for every event this session emits.
func (s *Session) SubscribeAll(fn event.Subscriber) func() {
	return s.bus.SubscribeAll(fn)
}

// Events returns a live stream of this session's events.
func (s *Session) Events(ctx context.Context) (<-chan event.Event, error) {
	return s.bus.Stream(ctx)
}

// Cleanup disarms the timer and drops all event subscribers and pending
// callbacks. Safe to call multiple times; the session state itself remains
// readable.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	s.execCancel()
	if err := s.bus.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing event bus")
	}
}
