package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sessionkit/sessionkit/internal/history"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// listHistory handles GET /history
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []types.TranscriptMetadata{})
		return
	}

	metas, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if metas == nil {
		metas = []types.TranscriptMetadata{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// getHistory handles GET /history/{sessionID}
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No history store configured")
		return
	}

	t, err := s.store.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) || errors.Is(err, history.ErrInvalidID) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Transcript not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// deleteHistory handles DELETE /history/{sessionID}
func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No history store configured")
		return
	}

	if err := s.store.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		if errors.Is(err, history.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}
