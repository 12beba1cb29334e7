package api

import (
	"net/http"
)

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	ContainerID string `json:"container_id"`
}

// handleCreateSession implements POST /sessions: adopt-or-create the
// container for the given session id under the authenticated principal.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	if err := s.limiter.Allow(r.Context(), principal); err != nil {
		writeAPIError(w, err)
		return
	}

	container, err := s.sessions.GetOrCreate(r.Context(), req.SessionID, principal)
	if err != nil {
		s.logger.Error("create session", "session_id", req.SessionID, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:   req.SessionID,
		ContainerID: shortContainerID(container.ID),
	})
}

type deleteSessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// handleDeleteSession implements DELETE /sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	if err := s.limiter.Allow(r.Context(), principal); err != nil {
		writeAPIError(w, err)
		return
	}

	if err := s.sessions.Delete(r.Context(), id, principal); err != nil {
		s.logger.Error("delete session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteSessionResponse{Status: "deleted", SessionID: id})
}
