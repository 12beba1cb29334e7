package api

import (
	"context"
	"time"

	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/workspace"
)

// Sessions abstracts the orchestrator operations the facade drives:
// adopt-or-create, bounded exec, and teardown.
type Sessions interface {
	GetOrCreate(ctx context.Context, sessionID, userID string) (*orchestrator.Container, error)
	Execute(ctx context.Context, c *orchestrator.Container, command, workdir string, timeoutSeconds int) (*orchestrator.Result, error)
	Delete(ctx context.Context, sessionID, requestingUserID string) error
}

// Files abstracts the workspace file operations the facade drives, already
// scoped to a single container.
type Files interface {
	List(ctx context.Context, containerID, relpath string) ([]workspace.Entry, error)
	Read(ctx context.Context, containerID, relpath string, maxSize int64) (*workspace.ReadResult, error)
	Write(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error
	Delete(ctx context.Context, containerID, relpath string) error
	Upload(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error
}

// RateLimiter abstracts the per-principal admission check.
type RateLimiter interface {
	Allow(ctx context.Context, principal string) error
}

// Whitelist abstracts command admission.
type Whitelist interface {
	Check(command string) error
}

// Authenticator abstracts principal resolution from request credentials.
type Authenticator interface {
	Authenticate(apiKey, authorizationHeader string) (string, error)
	HeaderName() string
}

// Clock is a fakeable time source. Nothing in this package takes one:
// exec durations are measured by the orchestrator itself.
type Clock func() time.Time
