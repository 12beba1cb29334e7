// Package reaper is the safety net for what the orchestrator misses:
// orphaned containers whose sessions were never deleted, containers whose
// store TTL expired while the container was still alive, or nodes
// restarted mid-create. It runs as a single cancellable background sweep.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

const createdAtLayout = time.RFC3339

// Reaper periodically force-removes sandbox containers past their max age
// and keeps the session store's container pointers honest at startup.
type Reaper struct {
	runtime  Runtime
	store    Store
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// New builds a Reaper. interval is the sweep period; maxAge is how old a
// container's created_at label may get before it is reclaimed.
func New(runtime Runtime, store Store, interval, maxAge time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{runtime: runtime, store: store, interval: interval, maxAge: maxAge, logger: logger}
}

// Run starts the reaper loop. It blocks until ctx is cancelled, running one
// reconciliation on startup and then one age sweep per tick.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "max_age", r.maxAge)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep force-removes every labelled container older than maxAge and
// deletes its session store record. Individual failures are logged and do
// not abort the rest of the sweep.
func (r *Reaper) sweep(ctx context.Context) {
	containers, err := r.runtime.ListByLabel(ctx)
	if err != nil {
		r.logger.Error("sweep: list containers", "error", err)
		return
	}

	now := time.Now().UTC()
	reclaimed := 0

	for _, c := range containers {
		if c.CreatedAt == "" {
			continue
		}
		createdAt, err := time.Parse(createdAtLayout, c.CreatedAt)
		if err != nil {
			r.logger.Warn("sweep: unparsable created_at label", "container_id", shortID(c.ContainerID), "value", c.CreatedAt)
			continue
		}
		if now.Sub(createdAt) < r.maxAge {
			continue
		}

		if err := r.runtime.Remove(ctx, c.ContainerID); err != nil {
			r.logger.Error("sweep: remove container", "session_id", c.SessionID, "container_id", shortID(c.ContainerID), "error", err)
			continue
		}
		if err := r.store.Delete(ctx, c.SessionID); err != nil {
			r.logger.Error("sweep: delete session record", "session_id", c.SessionID, "error", err)
		}

		r.logger.Info("reaped aged container", "session_id", c.SessionID, "container_id", shortID(c.ContainerID), "age", now.Sub(createdAt).String())
		reclaimed++
	}

	if reclaimed > 0 {
		r.logger.Info("sweep complete", "reclaimed", reclaimed)
	}
}

// reconcile diffs the set of labelled containers against the set of store
// records with a live container pointer. Store records whose container is
// missing are logged but left alone — the next get_or_create for that
// session repairs them. Containers that carry the labels but have no
// corresponding store record are orphans from a crash between
// container-create and store-write, and are removed outright.
func (r *Reaper) reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	containers, err := r.runtime.ListByLabel(ctx)
	if err != nil {
		r.logger.Error("reconcile: list containers", "error", err)
		return
	}
	containerBySession := make(map[string]string, len(containers))
	for _, c := range containers {
		containerBySession[c.SessionID] = c.ContainerID
	}

	pointers, err := r.store.ListContainerPointers(ctx)
	if err != nil {
		r.logger.Error("reconcile: list container pointers", "error", err)
		return
	}

	for sessionID := range pointers {
		if _, ok := containerBySession[sessionID]; !ok {
			r.logger.Warn("reconcile: store record has no matching container", "session_id", sessionID)
		}
		delete(containerBySession, sessionID)
	}

	// Remaining entries carry the label but have no store record: orphans.
	for sessionID, containerID := range containerBySession {
		r.logger.Warn("reconcile: orphan container, removing", "session_id", sessionID, "container_id", shortID(containerID))
		if err := r.runtime.Remove(ctx, containerID); err != nil {
			r.logger.Error("reconcile: remove orphan container", "container_id", shortID(containerID), "error", err)
		}
	}

	r.logger.Info("reconciliation complete")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
