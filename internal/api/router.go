package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/icexec/icexec/internal/config"
)

// Server is the thin HTTP facade: it authenticates, rate-limits, validates,
// and translates requests into core operations. It holds no business logic
// of its own.
type Server struct {
	cfg       *config.Config
	sessions  Sessions
	files     Files
	limiter   RateLimiter
	whitelist Whitelist
	authn     Authenticator
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewServer wires a Server from its core dependencies.
func NewServer(cfg *config.Config, sessions Sessions, files Files, limiter RateLimiter, whitelist Whitelist, authn Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		files:     files,
		limiter:   limiter,
		whitelist: whitelist,
		authn:     authn,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler for the process's listener.
func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.debugLogMiddleware(s.authMiddleware(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /execute", s.handleExecute)

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("GET /sessions/{id}/workspace", s.handleWorkspaceList)
	s.mux.HandleFunc("GET /sessions/{id}/workspace/content", s.handleWorkspaceRead)
	s.mux.HandleFunc("PUT /sessions/{id}/workspace/content", s.handleWorkspaceWrite)
	s.mux.HandleFunc("POST /sessions/{id}/workspace/upload", s.handleWorkspaceUpload)
	s.mux.HandleFunc("DELETE /sessions/{id}/workspace", s.handleWorkspaceDelete)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
