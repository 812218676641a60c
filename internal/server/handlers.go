package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/anonymizer"
	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
)

const maxRequestBody = 1 << 20 // 1 MiB

type anonymizeRequest struct {
	Text string `json:"text"`
	// SessionID continues an existing session; empty mints a new one.
	SessionID string `json:"session_id,omitempty"`
}

type deanonymizeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type deanonymizeResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// sessionSummary is the metadata view of a session. Original values never
// appear here; only the deanonymize endpoint returns them.
type sessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	MappingCount int       `json:"mapping_count"`
	Placeholders []string  `json:"placeholders"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		result *anonymizer.Result
		err    error
	)
	if req.SessionID != "" {
		result, err = s.anonymizer.AnonymizeInSession(r.Context(), req.SessionID, req.Text)
	} else {
		result, err = s.anonymizer.Anonymize(r.Context(), req.Text)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeanonymize(w http.ResponseWriter, r *http.Request) {
	var req deanonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	restored, err := s.deanonymizer.Deanonymize(r.Context(), req.Text, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deanonymizeResponse{Text: restored, SessionID: req.SessionID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !entity.ValidSessionID(id) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if session == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	summary := sessionSummary{
		SessionID:    session.ID,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
		MappingCount: len(session.Mappings),
	}
	for _, m := range session.Mappings {
		summary.Placeholders = append(summary.Placeholders, m.Placeholder)
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !entity.ValidSessionID(id) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return
	}

	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.assigner.Forget(id)

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "api request"
	}
	s.audit.VaultDelete(id, reason)
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":           "veil",
		"version":        Version,
		"detection_mode": s.config.Detection.Hybrid.Mode,
		"vault_backend":  s.config.Vault.Backend,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps pipeline errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.WithRequestID(requestID(r.Context()))
	switch {
	case errors.Is(err, anonymizer.ErrInvalidSessionID):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
	case errors.Is(err, detect.ErrUnavailable):
		log.Warn("Detection unavailable", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "detection unavailable"})
	default:
		log.Error("Request failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
