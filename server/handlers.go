package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/poiesic/finrag"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// Response is the envelope of every reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// QuestionRequest is the body of POST /api/question.
type QuestionRequest struct {
	Question         string   `json:"question"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	GroundTruth      string   `json:"ground_truth,omitempty"`
	RelevantChunkIDs []string `json:"relevant_chunk_ids,omitempty"`
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		s.respondWithError(w, fmt.Errorf("%w: invalid request body: %v", core.ErrInvalidArgument, err))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondWithError(w, fmt.Errorf("%w: question is required", core.ErrInvalidArgument))
		return
	}

	answer, err := s.engine.Ask(r.Context(), req.ConversationID, req.Question, &finrag.AskOptions{
		GroundTruth:      req.GroundTruth,
		RelevantChunkIDs: req.RelevantChunkIDs,
	})
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, answer)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handleConversationMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.ConversationMetrics(r.Context(), r.PathValue("conversation_id"))
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, summary)
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetMetrics(r.Context()); err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "metrics reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusOf maps an engine error to a status code and the message shown to
// the client. Collaborator and internal details stay in the log.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidArgument), errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest, err.Error()
	case core.IsCollaboratorFailure(err):
		return http.StatusServiceUnavailable, "could not complete the request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	} else {
		s.logger.Debug("bad request", "err", err)
	}
	s.write(w, status, Response{Success: false, Error: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, status int, data any) {
	s.write(w, status, Response{Success: true, Data: data})
}

func (s *Server) write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}
