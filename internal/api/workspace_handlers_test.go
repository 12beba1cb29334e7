package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/icexec/icexec/internal/config"
	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/ratelimit"
	"github.com/icexec/icexec/internal/sanitize"
	"github.com/icexec/icexec/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testWorkspaceServer(sessions Sessions, files Files) *Server {
	limiter := &mockRateLimiter{}
	limiter.On("Allow", mock.Anything, mock.Anything).Return(nil)
	return &Server{
		cfg:      &config.Config{WorkspaceMaxFileSizeBytes: 10 * 1024 * 1024},
		sessions: sessions,
		files:    files,
		limiter:  limiter,
		logger:   testLogger(),
		mux:      http.NewServeMux(),
	}
}

func withContainer(sessions *mockSessions, sessionID, containerID string) {
	sessions.On("GetOrCreate", mock.Anything, sessionID, "alice").
		Return(&orchestrator.Container{ID: containerID, SessionID: sessionID}, nil)
}

func TestHandleWorkspaceList(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("List", mock.Anything, "container-1", "sub").
		Return([]workspace.Entry{{Name: "a.txt", Type: "file"}, {Name: "b", Type: "dir"}}, nil)

	req := httptest.NewRequest("GET", "/sessions/s1/workspace?path=sub", nil)
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceList(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]workspaceEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body["entries"], 2)
}

func TestHandleWorkspaceList_BadPath(t *testing.T) {
	s := testWorkspaceServer(&mockSessions{}, &mockFiles{})

	req := httptest.NewRequest("GET", "/sessions/s1/workspace?path=../../etc", nil)
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceList(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWorkspaceRead(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Read", mock.Anything, "container-1", "notes.txt", int64(10*1024*1024)).
		Return(&workspace.ReadResult{Content: "hello", Encoding: "utf8"}, nil)

	req := httptest.NewRequest("GET", "/sessions/s1/workspace/content?path=notes.txt", nil)
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceRead(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "hello", body["content"])
	assert.Equal(t, "utf8", body["encoding"])
}

func TestHandleWorkspaceRead_NotFound(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Read", mock.Anything, "container-1", "missing.txt", int64(10*1024*1024)).
		Return(nil, workspace.ErrPathNotFound)

	req := httptest.NewRequest("GET", "/sessions/s1/workspace/content?path=missing.txt", nil)
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceRead(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWorkspaceWrite_JSON(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Write", mock.Anything, "container-1", "notes.txt", []byte("hi"), int64(10*1024*1024)).Return(nil)

	req := httptest.NewRequest("PUT", "/sessions/s1/workspace/content?path=notes.txt", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceWrite(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleWorkspaceWrite_RawBody(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Write", mock.Anything, "container-1", "notes.txt", []byte("raw bytes"), int64(10*1024*1024)).Return(nil)

	req := httptest.NewRequest("PUT", "/sessions/s1/workspace/content?path=notes.txt", strings.NewReader("raw bytes"))
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceWrite(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleWorkspaceDelete(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Delete", mock.Anything, "container-1", "notes.txt").Return(nil)

	req := httptest.NewRequest("DELETE", "/sessions/s1/workspace?path=notes.txt", nil)
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceDelete(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleWorkspaceUpload(t *testing.T) {
	sessions := &mockSessions{}
	files := &mockFiles{}
	s := testWorkspaceServer(sessions, files)

	withContainer(sessions, "s1", "container-1")
	files.On("Upload", mock.Anything, "container-1", "script.py", []byte("print(1)"), int64(10*1024*1024)).Return(nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "script.py")
	require.NoError(t, err)
	_, err = fw.Write([]byte("print(1)"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/sessions/s1/workspace/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("id", "s1")
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleWorkspaceUpload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "script.py", resp.Path)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, 8, resp.Size)
}

func TestResolveContainer_RateLimited(t *testing.T) {
	sessions := &mockSessions{}
	s := testWorkspaceServer(sessions, &mockFiles{})
	limiter := &mockRateLimiter{}
	limiter.On("Allow", mock.Anything, "alice").Return(ratelimit.ErrRateLimited)
	s.limiter = limiter

	req := httptest.NewRequest("GET", "/sessions/s1/workspace", nil)
	req = withPrincipal(req, "alice")

	_, err := s.resolveContainer(req, "s1")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
	sessions.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveContainer_PropagatesError(t *testing.T) {
	sessions := &mockSessions{}
	sessions.On("GetOrCreate", mock.Anything, "s1", "alice").Return(nil, sanitize.ErrBadPath)
	s := testWorkspaceServer(sessions, &mockFiles{})

	req := httptest.NewRequest("GET", "/sessions/s1/workspace", nil)
	req = withPrincipal(req, "alice")

	_, err := s.resolveContainer(req, "s1")
	assert.ErrorIs(t, err, sanitize.ErrBadPath)
}
