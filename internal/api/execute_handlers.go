package api

import (
	"math"
	"net/http"
)

type executeRequest struct {
	Command        string `json:"command"`
	SessionID      string `json:"session_id"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	WorkingDir     string `json:"working_dir,omitempty"`
}

type executeResponse struct {
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ExitCode      int     `json:"exit_code"`
	ExecutionTime float64 `json:"execution_time"`
	ContainerID   string  `json:"container_id"`
}

// handleExecute implements POST /execute: authenticate (middleware),
// rate-limit, whitelist the command, adopt-or-create the session's
// container, and run the command against it.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	var req executeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateExecuteRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	if err := s.limiter.Allow(r.Context(), principal); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.whitelist.Check(req.Command); err != nil {
		writeAPIError(w, err)
		return
	}

	container, err := s.sessions.GetOrCreate(r.Context(), req.SessionID, principal)
	if err != nil {
		s.logger.Error("execute: get or create", "session_id", req.SessionID, "error", err)
		writeAPIError(w, err)
		return
	}

	result, err := s.sessions.Execute(r.Context(), container, req.Command, req.WorkingDir, req.TimeoutSeconds)
	if err != nil {
		s.logger.Error("execute", "session_id", req.SessionID, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		ExitCode:      result.ExitCode,
		ExecutionTime: roundMillis(result.ExecutionTime.Seconds()),
		ContainerID:   shortContainerID(container.ID),
	})
}

// roundMillis rounds a duration-in-seconds value to millisecond precision,
// matching the exec timing reported upstream.
func roundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}

// shortContainerID truncates a full container id to the 12-character form
// used in API responses.
func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
