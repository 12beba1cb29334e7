package api

import (
	"context"

	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/workspace"
	"github.com/stretchr/testify/mock"
)

// mockSessions mocks the Sessions interface.
type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) GetOrCreate(ctx context.Context, sessionID, userID string) (*orchestrator.Container, error) {
	args := m.Called(ctx, sessionID, userID)
	if c := args.Get(0); c != nil {
		return c.(*orchestrator.Container), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessions) Execute(ctx context.Context, c *orchestrator.Container, command, workdir string, timeoutSeconds int) (*orchestrator.Result, error) {
	args := m.Called(ctx, c, command, workdir, timeoutSeconds)
	if r := args.Get(0); r != nil {
		return r.(*orchestrator.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessions) Delete(ctx context.Context, sessionID, requestingUserID string) error {
	args := m.Called(ctx, sessionID, requestingUserID)
	return args.Error(0)
}

// mockFiles mocks the Files interface.
type mockFiles struct {
	mock.Mock
}

func (m *mockFiles) List(ctx context.Context, containerID, relpath string) ([]workspace.Entry, error) {
	args := m.Called(ctx, containerID, relpath)
	if e := args.Get(0); e != nil {
		return e.([]workspace.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFiles) Read(ctx context.Context, containerID, relpath string, maxSize int64) (*workspace.ReadResult, error) {
	args := m.Called(ctx, containerID, relpath, maxSize)
	if r := args.Get(0); r != nil {
		return r.(*workspace.ReadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFiles) Write(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error {
	args := m.Called(ctx, containerID, relpath, content, maxSize)
	return args.Error(0)
}

func (m *mockFiles) Delete(ctx context.Context, containerID, relpath string) error {
	args := m.Called(ctx, containerID, relpath)
	return args.Error(0)
}

func (m *mockFiles) Upload(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error {
	args := m.Called(ctx, containerID, relpath, content, maxSize)
	return args.Error(0)
}

// mockRateLimiter mocks the RateLimiter interface.
type mockRateLimiter struct {
	mock.Mock
}

func (m *mockRateLimiter) Allow(ctx context.Context, principal string) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

// mockWhitelist mocks the Whitelist interface.
type mockWhitelist struct {
	mock.Mock
}

func (m *mockWhitelist) Check(command string) error {
	args := m.Called(command)
	return args.Error(0)
}

// mockAuthenticator mocks the Authenticator interface.
type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(apiKey, authorizationHeader string) (string, error) {
	args := m.Called(apiKey, authorizationHeader)
	return args.String(0), args.Error(1)
}

func (m *mockAuthenticator) HeaderName() string {
	args := m.Called()
	return args.String(0)
}
