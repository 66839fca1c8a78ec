package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shoptalk/shoptalk/internal/chat"
	"github.com/shoptalk/shoptalk/internal/model"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Stream frame shapes, matching what the frontend's SSE parser expects.
type (
	sessionFrame struct {
		SessionID string `json:"session_id"`
	}
	deltaFrame struct {
		Delta string `json:"delta"`
	}
	errorFrame struct {
		Error string `json:"error"`
	}
	endFrame struct {
		End bool `json:"end"`
	}
	doneFrame struct {
		Done bool `json:"done"`
	}
)

// resolveSession returns the session for the given id, creating a fresh one
// when the id is empty, malformed, or unknown.
func (s *Server) resolveSession(id string) uuid.UUID {
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err == nil {
			if _, err := s.sessions.Get(parsed); err == nil {
				return parsed
			}
		}
	}
	return s.sessions.Create("").ID
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, s.logger, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := s.resolveSession(req.SessionID)
	opts := chat.Options{BypassRetrieval: bypassFlag(r)}

	text, err := s.agent.Execute(r.Context(), sessionID, req.Message, opts)
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Debug("chat request canceled", "session", sessionID)
			return
		}
		s.logger.Error("chat execution failed", "session", sessionID, "error", err)
		writeError(w, s.logger, http.StatusBadGateway, "failed to generate a response")
		return
	}

	writeJSON(w, s.logger, http.StatusOK, chatResponse{
		Response:  text,
		SessionID: sessionID.String(),
	})
}

// handleChatStreamPost streams the response over SSE-style data frames:
// first the session id, then deltas, then {"end": true}. An error frame
// precedes the terminal frame on failure.
func (s *Server) handleChatStreamPost(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	s.streamChat(w, r, req, endFrame{End: true})
}

// handleChatStreamGet is the query-parameter variant used by EventSource
// clients; its terminal frame is {"done": true}.
func (s *Server) handleChatStreamGet(w http.ResponseWriter, r *http.Request) {
	req := chatRequest{
		Message:   r.URL.Query().Get("message"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	s.streamChat(w, r, req, doneFrame{Done: true})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chatRequest, terminal any) {
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, s.logger, http.StatusBadRequest, "message is required")
		return
	}

	sw, err := newStreamWriter(w)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := s.resolveSession(req.SessionID)
	if err := sw.writeFrame(sessionFrame{SessionID: sessionID.String()}); err != nil {
		s.logger.Debug("client gone before stream start", "session", sessionID)
		return
	}

	opts := chat.Options{BypassRetrieval: bypassFlag(r)}
	_, err = s.agent.ExecuteStream(r.Context(), sessionID, req.Message, opts,
		func(_ context.Context, delta string) error {
			return sw.writeFrame(deltaFrame{Delta: delta})
		})
	if err != nil {
		if r.Context().Err() != nil {
			// Client disconnected mid-stream; generation stopped, nothing
			// was committed.
			s.logger.Debug("stream canceled by client", "session", sessionID)
			return
		}
		s.logger.Error("stream generation failed", "session", sessionID, "error", err)
		msg := "failed to generate a response"
		if errors.Is(err, chat.ErrInvalidSession) {
			msg = "session not found"
		}
		_ = sw.writeFrame(errorFrame{Error: msg})
	}

	_ = sw.writeFrame(terminal)
}

// bypassFlag reads the bypass_rag query flag, which skips retrieval for a
// raw model answer.
func bypassFlag(r *http.Request) bool {
	return r.URL.Query().Get("bypass_rag") == "true"
}

// Agent is the slice of the orchestrator the HTTP layer needs.
type Agent interface {
	Execute(ctx context.Context, sessionID uuid.UUID, message string, opts chat.Options) (string, error)
	ExecuteStream(ctx context.Context, sessionID uuid.UUID, message string, opts chat.Options, cb model.StreamCallback) (string, error)
}
