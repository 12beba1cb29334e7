// Package orchestrator implements the core state machine: adopt-or-create a
// sandbox container for a session, run bounded-timeout execs against it,
// and reconcile drift between the session store and the container runtime.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icexec/icexec/internal/sessionstore"
)

// ErrForbidden is returned from Delete when the requesting principal does
// not own the session.
var ErrForbidden = errors.New("session owned by another principal")

// ErrRuntimeUnavailable wraps failures talking to the container runtime.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// Runtime is the capability interface the orchestrator needs from the
// container backend. Defined here (the consumer) rather than in the
// backend package, so the backend stays swappable and unit tests can fake
// it without a live Docker daemon.
type Runtime interface {
	Create(ctx context.Context, opts CreateOpts) (string, error)
	Exec(ctx context.Context, containerID, command, workdir string, uid, gid int64) (*ExecResult, error)
	Status(ctx context.Context, containerID string) (exists bool, running bool, err error)
	Remove(ctx context.Context, containerID string) error
}

// CreateOpts mirrors dockerrt.CreateOpts without importing the Docker SDK
// into this package's public surface.
type CreateOpts struct {
	SessionID string
	UserID    string
}

// ExecResult mirrors dockerrt.ExecResult.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Store is the subset of the session store the orchestrator depends on.
type Store interface {
	Create(ctx context.Context, sessionID, userID, containerID string) error
	Get(ctx context.Context, sessionID string) (*sessionstore.Session, error)
	GetContainerID(ctx context.Context, sessionID string) (string, error)
	Refresh(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	SetContainer(ctx context.Context, sessionID, containerID string) error
}

// Container is the handle returned to callers after get-or-create: enough
// to exec against and to report back to the client.
type Container struct {
	ID        string
	SessionID string
}

// Result is the outcome of Execute, always populated even on timeout or
// exec failure — those are in-band, not transport errors.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	ExecutionTime time.Duration
}

// Orchestrator implements get-or-create, execute, and delete against a
// Runtime and a Store, serializing per-session work and bounding
// concurrent outstanding execs.
type Orchestrator struct {
	runtime Runtime
	store   Store
	logger  *slog.Logger

	uid, gid int64

	defaultExecTimeout time.Duration
	maxExecTimeout     time.Duration

	execSem chan struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Options configures an Orchestrator.
type Options struct {
	UID, GID                  int64
	DefaultExecTimeout        time.Duration
	MaxExecTimeout            time.Duration
	ExecPoolSize              int
}

// New builds an Orchestrator.
func New(runtime Runtime, store Store, logger *slog.Logger, opts Options) *Orchestrator {
	poolSize := opts.ExecPoolSize
	if poolSize <= 0 {
		poolSize = 32
	}
	return &Orchestrator{
		runtime:            runtime,
		store:              store,
		logger:             logger,
		uid:                opts.UID,
		gid:                opts.GID,
		defaultExecTimeout: opts.DefaultExecTimeout,
		maxExecTimeout:     opts.MaxExecTimeout,
		execSem:            make(chan struct{}, poolSize),
		locks:              make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) sessionLock(id string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	return mu
}

func (o *Orchestrator) removeSessionLock(id string) {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	delete(o.locks, id)
}

// GetOrCreate adopts the container backing sessionID if it is still
// running, or creates a new one. The per-session mutex serializes
// concurrent get-or-create calls for the same session; Execute does not
// take it, so concurrent execs against one container are not ordered.
func (o *Orchestrator) GetOrCreate(ctx context.Context, sessionID, userID string) (*Container, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	containerID, err := o.store.GetContainerID(ctx, sessionID)
	switch {
	case err == nil:
		exists, running, statusErr := o.runtime.Status(ctx, containerID)
		if statusErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, statusErr)
		}
		if exists && running {
			if refreshErr := o.store.Refresh(ctx, sessionID); refreshErr != nil {
				o.logger.Warn("get_or_create: refresh session ttl", "session_id", sessionID, "error", refreshErr)
			}
			return &Container{ID: containerID, SessionID: sessionID}, nil
		}
		if exists {
			// Exited but not running: force-remove and fall through to creation.
			if rmErr := o.runtime.Remove(ctx, containerID); rmErr != nil {
				o.logger.Warn("get_or_create: remove stale container", "session_id", sessionID, "error", rmErr)
			}
		}
		// Either way (exited or not found), the stored record no longer
		// reflects reality; clear it before recreating.
		if delErr := o.store.Delete(ctx, sessionID); delErr != nil {
			o.logger.Warn("get_or_create: delete stale session record", "session_id", sessionID, "error", delErr)
		}
	case errors.Is(err, sessionstore.ErrNotFound):
		// No prior record: fall through to creation.
	default:
		return nil, fmt.Errorf("get container id: %w", err)
	}

	newID, err := o.runtime.Create(ctx, CreateOpts{SessionID: sessionID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, err)
	}

	if err := o.store.Create(ctx, sessionID, userID, newID); err != nil {
		o.logger.Error("get_or_create: store session", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("store session: %w", err)
	}

	o.logger.Info("container created", "session_id", sessionID, "user_id", userID, "container_id", shortID(newID))

	return &Container{ID: newID, SessionID: sessionID}, nil
}

// Execute clamps timeoutSeconds into [1, maxExecTimeout], submits the exec
// under the bounded worker pool, and always returns a Result — even on
// timeout or in-container failure, which surface in-band per the error
// handling design rather than as a transport error.
func (o *Orchestrator) Execute(ctx context.Context, c *Container, command, workdir string, timeoutSeconds int) (*Result, error) {
	execID := NewExecID()
	timeout := o.clampTimeout(timeoutSeconds)

	select {
	case o.execSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.execSem }()

	if workdir == "" {
		workdir = "/workspace"
	}

	o.logger.Debug("exec start", "exec_id", execID, "session_id", c.SessionID, "container_id", shortID(c.ID))

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execOutcome struct {
		res *ExecResult
		err error
	}
	done := make(chan execOutcome, 1)
	go func() {
		res, err := o.runtime.Exec(execCtx, c.ID, command, workdir, o.uid, o.gid)
		done <- execOutcome{res, err}
	}()

	select {
	case outcome := <-done:
		elapsed := time.Since(start)
		if refreshErr := o.store.Refresh(ctx, c.SessionID); refreshErr != nil {
			o.logger.Warn("execute: refresh session ttl", "session_id", c.SessionID, "error", refreshErr)
		}
		if outcome.err != nil {
			o.logger.Debug("exec failed", "exec_id", execID, "error", outcome.err)
			return &Result{ExitCode: -1, Stderr: outcome.err.Error(), ExecutionTime: elapsed}, nil
		}
		o.logger.Debug("exec done", "exec_id", execID, "exit_code", outcome.res.ExitCode, "elapsed", elapsed)
		return &Result{
			Stdout:        outcome.res.Stdout,
			Stderr:        outcome.res.Stderr,
			ExitCode:      outcome.res.ExitCode,
			ExecutionTime: elapsed,
		}, nil
	case <-execCtx.Done():
		elapsed := time.Since(start)
		if refreshErr := o.store.Refresh(ctx, c.SessionID); refreshErr != nil {
			o.logger.Warn("execute: refresh session ttl", "session_id", c.SessionID, "error", refreshErr)
		}
		o.logger.Debug("exec timed out", "exec_id", execID, "timeout", timeout)
		return &Result{
			ExitCode:      -1,
			Stderr:        fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
			ExecutionTime: elapsed,
		}, nil
	}
}

func (o *Orchestrator) clampTimeout(seconds int) time.Duration {
	if seconds == 0 {
		return o.defaultExecTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > o.maxExecTimeout {
		return o.maxExecTimeout
	}
	if d < time.Second {
		return time.Second
	}
	return d
}

// Delete removes the session's container (best-effort) and its store
// record. Absent sessions report success (idempotent). requestingUserID must match
// the session's recorded user_id or ErrForbidden is returned and nothing
// is deleted.
func (o *Orchestrator) Delete(ctx context.Context, sessionID, requestingUserID string) error {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	if sess.UserID != requestingUserID {
		return ErrForbidden
	}

	if err := o.runtime.Remove(ctx, sess.ContainerID); err != nil {
		o.logger.Warn("delete: remove container", "session_id", sessionID, "error", err)
	}
	if err := o.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	o.removeSessionLock(sessionID)

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sessionstore.ErrNotFound)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// NewExecID returns a correlation id for logging a single exec attempt.
func NewExecID() string {
	return uuid.New().String()[:8]
}
