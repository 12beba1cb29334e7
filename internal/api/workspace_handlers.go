package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/icexec/icexec/internal/sanitize"
)

// resolveContainer rate-limits the principal and adopts-or-creates the
// session's container so workspace operations, like execute, always go
// through the same admission check and always have a live handle to act
// against.
func (s *Server) resolveContainer(r *http.Request, sessionID string) (string, error) {
	principal := principalFromContext(r.Context())
	if err := s.limiter.Allow(r.Context(), principal); err != nil {
		return "", err
	}
	container, err := s.sessions.GetOrCreate(r.Context(), sessionID, principal)
	if err != nil {
		return "", err
	}
	return container.ID, nil
}

type workspaceEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// handleWorkspaceList implements GET /sessions/{id}/workspace?path=.
func (s *Server) handleWorkspaceList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	relpath, err := sanitize.Path(r.URL.Query().Get("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	containerID, err := s.resolveContainer(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	entries, err := s.files.List(r.Context(), containerID, relpath)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	out := make([]workspaceEntry, len(entries))
	for i, e := range entries {
		out[i] = workspaceEntry{Name: e.Name, Type: e.Type}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// handleWorkspaceRead implements GET /sessions/{id}/workspace/content?path=.
func (s *Server) handleWorkspaceRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	relpath, err := sanitize.Path(r.URL.Query().Get("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	containerID, err := s.resolveContainer(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := s.files.Read(r.Context(), containerID, relpath, s.cfg.WorkspaceMaxFileSizeBytes)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"content":  result.Content,
		"encoding": result.Encoding,
	})
}

type writeWorkspaceRequest struct {
	Content string `json:"content"`
}

// handleWorkspaceWrite implements PUT /sessions/{id}/workspace/content?path=.
// Accepts either a JSON body ({"content": "..."}) or raw bytes, selected by
// Content-Type.
func (s *Server) handleWorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	relpath, err := sanitize.Path(r.URL.Query().Get("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	content, err := readWriteBody(w, r)
	if err != nil {
		writeValidationError(w, "invalid body: "+err.Error(), nil)
		return
	}

	containerID, err := s.resolveContainer(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := s.files.Write(r.Context(), containerID, relpath, content, s.cfg.WorkspaceMaxFileSizeBytes); err != nil {
		writeAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func readWriteBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req writeWorkspaceRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return nil, err
		}
		return []byte(req.Content), nil
	}
	return io.ReadAll(r.Body)
}

// MaxUploadBytes caps the size of a multipart upload request and of the
// uploaded file it carries.
const MaxUploadBytes = 10 * 1024 * 1024

type uploadResponse struct {
	Path      string `json:"path"`
	SessionID string `json:"session_id"`
	Size      int    `json:"size"`
}

// handleWorkspaceUpload implements POST /sessions/{id}/workspace/upload.
func (s *Server) handleWorkspaceUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(MaxUploadBytes))
	if err := r.ParseMultipartForm(int64(MaxUploadBytes)); err != nil {
		writeValidationError(w, "invalid multipart form: "+err.Error(), nil)
		return
	}

	relpath, err := sanitize.Path(r.FormValue("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeValidationError(w, "no file provided: use form field 'file'", nil)
		return
	}
	fh := files[0]

	name := filepath.Base(fh.Filename)
	if name == "" || name == "." || strings.Contains(name, "..") {
		writeValidationError(w, "invalid filename: "+fh.Filename, nil)
		return
	}
	destPath := name
	if relpath != "" {
		destPath = relpath + "/" + name
	}

	f, err := fh.Open()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(f, int64(MaxUploadBytes)+1))
	_ = f.Close()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if len(content) > MaxUploadBytes {
		writeValidationError(w, "file too large", map[string]any{"filename": fh.Filename, "max_bytes": MaxUploadBytes})
		return
	}

	containerID, err := s.resolveContainer(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := s.files.Upload(r.Context(), containerID, destPath, content, s.cfg.WorkspaceMaxFileSizeBytes); err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Path: destPath, SessionID: id, Size: len(content)})
}

// handleWorkspaceDelete implements DELETE /sessions/{id}/workspace?path=.
func (s *Server) handleWorkspaceDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	relpath, err := sanitize.Path(r.URL.Query().Get("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	containerID, err := s.resolveContainer(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := s.files.Delete(r.Context(), containerID, relpath); err != nil {
		writeAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
