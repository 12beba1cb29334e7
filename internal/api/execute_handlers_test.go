package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/ratelimit"
	"github.com/icexec/icexec/internal/whitelist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testExecuteServer(sessions Sessions, limiter RateLimiter, whitelist Whitelist) *Server {
	return &Server{
		sessions:  sessions,
		limiter:   limiter,
		whitelist: whitelist,
		logger:    testLogger(),
		mux:       http.NewServeMux(),
	}
}

func TestHandleExecute_Success(t *testing.T) {
	sessions := &mockSessions{}
	limiter := &mockRateLimiter{}
	wl := &mockWhitelist{}
	s := testExecuteServer(sessions, limiter, wl)

	container := &orchestrator.Container{ID: "abcdef012345678901234567890123456789012345678901234567890123ab", SessionID: "s1"}
	limiter.On("Allow", mock.Anything, "alice").Return(nil)
	wl.On("Check", "echo hi").Return(nil)
	sessions.On("GetOrCreate", mock.Anything, "s1", "alice").Return(container, nil)
	sessions.On("Execute", mock.Anything, container, "echo hi", "", 0).
		Return(&orchestrator.Result{Stdout: "hi\n", ExitCode: 0, ExecutionTime: 50 * time.Millisecond}, nil)

	body := `{"command":"echo hi","session_id":"s1"}`
	req := httptest.NewRequest("POST", "/execute", strings.NewReader(body))
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp executeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "hi\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "abcdef012345", resp.ContainerID)
}

func TestHandleExecute_RateLimited(t *testing.T) {
	sessions := &mockSessions{}
	limiter := &mockRateLimiter{}
	wl := &mockWhitelist{}
	s := testExecuteServer(sessions, limiter, wl)

	limiter.On("Allow", mock.Anything, "alice").Return(ratelimit.ErrRateLimited)

	body := `{"command":"echo hi","session_id":"s1"}`
	req := httptest.NewRequest("POST", "/execute", strings.NewReader(body))
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	wl.AssertNotCalled(t, "Check", mock.Anything)
	sessions.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleExecute_CommandForbidden(t *testing.T) {
	sessions := &mockSessions{}
	limiter := &mockRateLimiter{}
	wl := &mockWhitelist{}
	s := testExecuteServer(sessions, limiter, wl)

	limiter.On("Allow", mock.Anything, "alice").Return(nil)
	wl.On("Check", "nc -l 1234").Return(whitelist.ErrCommandForbidden)

	body := `{"command":"nc -l 1234","session_id":"s1"}`
	req := httptest.NewRequest("POST", "/execute", strings.NewReader(body))
	req = withPrincipal(req, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	sessions.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleExecute_InvalidBody(t *testing.T) {
	s := testExecuteServer(&mockSessions{}, &mockRateLimiter{}, &mockWhitelist{})

	req := httptest.NewRequest("POST", "/execute", strings.NewReader("{invalid"))
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShortContainerID(t *testing.T) {
	assert.Equal(t, "abcdef012345", shortContainerID("abcdef012345678901234567890123456789012345678901234567890123ab"))
	assert.Equal(t, "short", shortContainerID("short"))
}

func TestRoundMillis(t *testing.T) {
	assert.Equal(t, 0.051, roundMillis(0.0512345))
	assert.Equal(t, 1.235, roundMillis(1.2346))
	assert.Equal(t, 0.0, roundMillis(0))
}
