package api

import "net/http"

// handleHealth implements GET /health: liveness only, no dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady implements GET /ready: readiness, currently a static signal
// since the facade holds no pooled dependency it must warm up before
// serving traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
