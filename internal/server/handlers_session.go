package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionkit/sessionkit/internal/session"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Kind types.Kind `json:"kind"`

	// Common settings. Zero values fall back to the engine defaults.
	Context      string `json:"context,omitempty"`
	TimeoutMS    int64  `json:"timeout,omitempty"`
	MemoryWindow int    `json:"memoryWindow,omitempty"`
	MaxMessages  int    `json:"maxMessages,omitempty"`

	// Tool sessions.
	Tools []types.ToolDefinition `json:"tools,omitempty"`

	// Workflow sessions: either an inline document or the id of one in
	// the workflow library. Variables overlay the document's own.
	Workflow   *types.WorkflowDocument `json:"workflow,omitempty"`
	WorkflowID string                  `json:"workflowID,omitempty"`
	Variables  map[string]any          `json:"variables,omitempty"`

	// Start the session immediately instead of leaving it pending.
	Start bool `json:"start,omitempty"`
}

// SendMessageRequest is the body for POST /session/{sessionID}/message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// JumpRequest is the body for POST /session/{sessionID}/jump.
type JumpRequest struct {
	StepID string `json:"stepID"`
}

// MessageResponse carries a session's reply to one message.
type MessageResponse struct {
	Reply string `json:"reply"`
}

// baseConfig merges request settings with the engine defaults.
func (s *Server) baseConfig(req CreateSessionRequest) session.Config {
	timeoutMS := req.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = s.appConfig.Defaults.TimeoutMS
	}
	maxMessages := req.MaxMessages
	if maxMessages == 0 {
		maxMessages = s.appConfig.Defaults.MaxMessages
	}
	return session.Config{
		Timeout:     time.Duration(timeoutMS) * time.Millisecond,
		MaxMessages: maxMessages,
	}
}

// buildSession constructs a pending session for the request.
func (s *Server) buildSession(req CreateSessionRequest) (Handle, error) {
	switch req.Kind {
	case types.KindChat, "":
		window := req.MemoryWindow
		if window == 0 {
			window = s.appConfig.Defaults.MemoryWindow
		}
		return session.NewChat(session.ChatConfig{
			Config:       s.baseConfig(req),
			Context:      req.Context,
			MemoryWindow: window,
			Responder:    s.responder,
		}), nil

	case types.KindTool:
		tools := req.Tools
		if len(tools) == 0 {
			tools = s.tools.List()
		}
		return session.NewTools(session.ToolConfig{
			Config:    s.baseConfig(req),
			Context:   req.Context,
			Tools:     tools,
			Executor:  s.executor,
			Responder: s.responder,
		})

	case types.KindWorkflow:
		doc, err := s.resolveWorkflow(req)
		if err != nil {
			return nil, err
		}
		return session.NewWorkflow(session.WorkflowConfig{
			Config:   s.baseConfig(req),
			Document: doc,
			Runner:   s.runner,
		})

	default:
		return nil, fmt.Errorf("unknown session kind %q", req.Kind)
	}
}

// resolveWorkflow picks the inline document or a library entry and
// applies the request's variable overlay and retry default.
func (s *Server) resolveWorkflow(req CreateSessionRequest) (types.WorkflowDocument, error) {
	var doc types.WorkflowDocument
	switch {
	case req.Workflow != nil:
		doc = *req.Workflow
	case req.WorkflowID != "":
		if s.library == nil {
			return doc, fmt.Errorf("no workflow library configured")
		}
		found, ok := s.library.Get(req.WorkflowID)
		if !ok {
			return doc, fmt.Errorf("workflow %q not found", req.WorkflowID)
		}
		doc = found
	default:
		return doc, fmt.Errorf("workflow session requires a workflow document or workflowID")
	}

	if len(req.Variables) > 0 {
		merged := make(map[string]any, len(doc.Variables)+len(req.Variables))
		for k, v := range doc.Variables {
			merged[k] = v
		}
		for k, v := range req.Variables {
			merged[k] = v
		}
		doc.Variables = merged
	}

	if defaultRetries := s.appConfig.Defaults.MaxRetries; defaultRetries > 0 {
		if doc.Options == nil {
			doc.Options = &types.WorkflowOptions{MaxRetries: defaultRetries}
		} else if doc.Options.MaxRetries == 0 {
			opts := *doc.Options
			opts.MaxRetries = defaultRetries
			doc.Options = &opts
		}
	}
	return doc, nil
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	h, err := s.buildSession(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	s.manager.Add(h)
	if req.Start {
		if err := h.Start(); err != nil {
			s.manager.Remove(h.ID())
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, h.Snapshot())
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.manager.Snapshots()
	if snaps == nil {
		snaps = []types.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Remove(chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeSuccess(w)
}

// startSession handles POST /session/{sessionID}/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	if err := h.Start(); err != nil {
		writeError(w, http.StatusConflict, ErrCodeInvalidState, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// sendMessage handles POST /session/{sessionID}/message
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	reply, err := h.SendMessage(r.Context(), req.Content)
	if err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			writeError(w, http.StatusConflict, ErrCodeInvalidState, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Reply: reply})
}

// cancelSession handles POST /session/{sessionID}/cancel
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Cancel())
}

// getResult handles GET /session/{sessionID}/result
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Result())
}

// waitSession handles GET /session/{sessionID}/wait. It blocks until the
// session reaches a terminal state or the client goes away.
func (s *Server) waitSession(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	res, err := h.WaitUntilEnd(r.Context())
	if err != nil {
		writeError(w, http.StatusRequestTimeout, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// continueWorkflow handles POST /session/{sessionID}/continue
func (s *Server) continueWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflowFor(w, r)
	if !ok {
		return
	}
	if err := wf.Continue(); err != nil {
		writeError(w, http.StatusConflict, ErrCodeInvalidState, err.Error())
		return
	}
	writeSuccess(w)
}

// jumpWorkflow handles POST /session/{sessionID}/jump
func (s *Server) jumpWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflowFor(w, r)
	if !ok {
		return
	}

	var req JumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StepID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "stepID is required")
		return
	}

	if err := wf.JumpToStep(req.StepID); err != nil {
		if errors.Is(err, session.ErrUnknownStep) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, ErrCodeInvalidState, err.Error())
		return
	}
	writeSuccess(w)
}

// workflowFor resolves the request's session as a workflow session,
// writing the error response itself when it cannot.
func (s *Server) workflowFor(w http.ResponseWriter, r *http.Request) (workflowHandle, bool) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return nil, false
	}
	wf, ok := h.(workflowHandle)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Not a workflow session")
		return nil, false
	}
	return wf, true
}

// exportSession handles GET /session/{sessionID}/export
func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Export())
}

// importSession handles POST /session/import. The transcript's metadata
// decides the variant; the new session comes back pending under a fresh id.
func (s *Server) importSession(w http.ResponseWriter, r *http.Request) {
	var t types.Transcript
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	h, err := s.importTranscript(t)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	s.manager.Add(h)
	writeJSON(w, http.StatusCreated, h.Snapshot())
}

func (s *Server) importTranscript(t types.Transcript) (Handle, error) {
	cfg := s.baseConfig(CreateSessionRequest{})

	switch t.Metadata.Kind {
	case types.KindChat, "":
		return session.ImportChat(t, session.ChatConfig{
			Config:    cfg,
			Responder: s.responder,
		}), nil
	case types.KindTool:
		return session.ImportTools(t, session.ToolConfig{
			Config:    cfg,
			Executor:  s.executor,
			Responder: s.responder,
		})
	case types.KindWorkflow:
		return session.ImportWorkflow(t, session.WorkflowConfig{
			Config: cfg,
			Runner: s.runner,
		})
	default:
		return nil, fmt.Errorf("unknown session kind %q", t.Metadata.Kind)
	}
}

// listWorkflows handles GET /workflow
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		writeJSON(w, http.StatusOK, []types.WorkflowDocument{})
		return
	}
	docs := s.library.List()
	if docs == nil {
		docs = []types.WorkflowDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// listTools handles GET /tool
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tools.List())
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Len(),
	})
}
