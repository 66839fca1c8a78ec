package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shoptalk/shoptalk/internal/session"
)

func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create("")
	writeJSON(w, s.logger, http.StatusOK, sess)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"sessions": s.sessions.List(),
	})
}

// handleSessionTitle accepts the new title as a query parameter (the
// original API's shape) or a JSON body {"title": ...}.
func (s *Server) handleSessionTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}

	title := r.URL.Query().Get("title")
	if title == "" {
		var body struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			title = body.Title
		}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		writeError(w, s.logger, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.sessions.Rename(id, title); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"title":      title,
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Delete(id); err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"deleted":    true,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	turns, err := s.sessions.History(id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"messages":   turns,
	})
}

func (s *Server) sessionIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, s.logger, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Error("session operation failed", "error", err)
	writeError(w, s.logger, http.StatusInternalServerError, "internal error")
}
