package session

import (
	"github.com/sessionkit/sessionkit/pkg/types"
)

// Export serializes the session into a transcript: context, messages,
// tool or workflow set, and identifying metadata. The transcript
// round-trips through the Import constructors to reconstruct an
// equivalent session, minus live timers and subscribers.
func (s *Session) Export() types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := types.Transcript{
		Messages: append([]types.Message(nil), s.messages...),
		Metadata: types.TranscriptMetadata{
			SessionID:    s.id,
			Kind:         s.kind,
			Created:      s.created,
			Updated:      s.updated,
			MessageCount: len(s.messages),
			Endpoint:     s.cfg.Endpoint,
		},
	}
	s.variant.extendTranscript(&t)
	return t
}

// seed preloads a message log into a freshly constructed (pending)
// session. Used only by the Import constructors.
func (s *Session) seed(messages []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]types.Message(nil), messages...)
}

// ImportChat reconstructs a conversational session from a transcript. The
// new session starts pending with the transcript's messages preloaded;
// the transcript's context is used unless cfg supplies its own.
func ImportChat(t types.Transcript, cfg ChatConfig) *ChatSession {
	if cfg.Context == "" {
		cfg.Context = t.Context
	}
	c := NewChat(cfg)
	c.seed(t.Messages)
	return c
}

// ImportTools reconstructs a tool-invocation session from a transcript.
// The transcript's tools are registered first; additional tools in cfg are
// added after (idempotent by name).
func ImportTools(t types.Transcript, cfg ToolConfig) (*ToolSession, error) {
	if cfg.Context == "" {
		cfg.Context = t.Context
	}
	cfg.Tools = append(append([]types.ToolDefinition(nil), t.Tools...), cfg.Tools...)

	ts, err := NewTools(cfg)
	if err != nil {
		return nil, err
	}
	ts.seed(t.Messages)
	return ts, nil
}

// ImportWorkflow reconstructs a workflow session from a transcript
// carrying a workflow document. The document's variable set reflects the
// state at export time.
func ImportWorkflow(t types.Transcript, cfg WorkflowConfig) (*WorkflowSession, error) {
	if t.Workflow != nil {
		cfg.Document = *t.Workflow
	}
	w, err := NewWorkflow(cfg)
	if err != nil {
		return nil, err
	}
	w.seed(t.Messages)
	return w, nil
}
