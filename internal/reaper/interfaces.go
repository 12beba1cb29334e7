package reaper

import "context"

// LabelledContainer is one labelled sandbox container as reported by the
// runtime, mirroring dockerrt.LabelledContainer.
type LabelledContainer struct {
	ContainerID string
	SessionID   string
	UserID      string
	CreatedAt   string // RFC3339, from the runtime's created_at label
}

// Runtime abstracts the container operations the reaper needs: enumerate
// every labelled sandbox container and remove one by id.
type Runtime interface {
	ListByLabel(ctx context.Context) ([]LabelledContainer, error)
	Remove(ctx context.Context, containerID string) error
}

// Store abstracts the session store operations the reaper needs to keep
// the session_id -> container mapping consistent with runtime reality.
type Store interface {
	Delete(ctx context.Context, sessionID string) error
	ListContainerPointers(ctx context.Context) (map[string]string, error)
}
