package server

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sessionkit/sessionkit/internal/event"
	"github.com/sessionkit/sessionkit/internal/history"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// Handle is the host-facing surface every session variant exposes.
type Handle interface {
	ID() string
	Kind() types.Kind
	Status() types.Status
	Start() error
	SendMessage(ctx context.Context, content string) (string, error)
	Cancel() types.Result
	Result() types.Result
	WaitUntilEnd(ctx context.Context) (types.Result, error)
	Snapshot() types.Snapshot
	Export() types.Transcript
	Subscribe(t event.Type, fn event.Subscriber) func()
	Events(ctx context.Context) (<-chan event.Event, error)
	Cleanup()
}

// workflowHandle is the extra surface of workflow sessions.
type workflowHandle interface {
	Continue() error
	JumpToStep(stepID string) error
}

// Manager tracks live sessions by id. When a history store is attached,
// each session's transcript is saved as it reaches a terminal state.
type Manager struct {
	store *history.Store
	log   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]Handle
}

// NewManager creates an empty manager. store may be nil to disable
// persistence.
func NewManager(store *history.Store) *Manager {
	return &Manager{
		store:    store,
		log:      logging.Component("manager"),
		sessions: make(map[string]Handle),
	}
}

// Add registers a session.
func (m *Manager) Add(h Handle) {
	m.mu.Lock()
	m.sessions[h.ID()] = h
	m.mu.Unlock()

	if m.store != nil {
		h.Subscribe(event.SessionEnd, func(event.Event) {
			if err := m.store.Save(context.Background(), h.Export()); err != nil {
				m.log.Warn().Str("session", h.ID()).Err(err).Msg("persisting transcript")
			}
		})
	}
}

// Get returns the session for an id.
func (m *Manager) Get(id string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[id]
	return h, ok
}

// Remove cancels a session, releases its resources, and forgets it.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	h, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	h.Cancel()
	h.Cleanup()
	return true
}

// Snapshots returns a snapshot of every live session, ordered by id.
func (m *Manager) Snapshots() []types.Snapshot {
	m.mu.RLock()
	handles := make([]Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	snaps := make([]types.Snapshot, 0, len(handles))
	for _, h := range handles {
		snaps = append(snaps, h.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown cancels and cleans up every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.sessions = make(map[string]Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
		h.Cleanup()
	}
}
