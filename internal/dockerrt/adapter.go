package dockerrt

import (
	"context"

	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/reaper"
	"github.com/icexec/icexec/internal/workspace"
)

// OrchestratorRuntime adapts Client to orchestrator.Runtime. The two
// packages declare independent CreateOpts/ExecResult types so neither has
// to import the Docker SDK; this is the one place that converts between
// them.
type OrchestratorRuntime struct{ *Client }

func (r OrchestratorRuntime) Create(ctx context.Context, opts orchestrator.CreateOpts) (string, error) {
	return r.Client.Create(ctx, CreateOpts{SessionID: opts.SessionID, UserID: opts.UserID})
}

func (r OrchestratorRuntime) Exec(ctx context.Context, containerID, command, workdir string, uid, gid int64) (*orchestrator.ExecResult, error) {
	res, err := r.Client.Exec(ctx, containerID, command, workdir, uid, gid)
	if err != nil {
		return nil, err
	}
	return &orchestrator.ExecResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}

// WorkspaceExec adapts Client to workspace.Exec.
type WorkspaceExec struct{ *Client }

func (r WorkspaceExec) Exec(ctx context.Context, containerID, command, workdir string, uid, gid int64) (*workspace.ExecResult, error) {
	res, err := r.Client.Exec(ctx, containerID, command, workdir, uid, gid)
	if err != nil {
		return nil, err
	}
	return &workspace.ExecResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}

// ReaperRuntime adapts Client to reaper.Runtime.
type ReaperRuntime struct{ *Client }

func (r ReaperRuntime) ListByLabel(ctx context.Context) ([]reaper.LabelledContainer, error) {
	rows, err := r.Client.ListByLabel(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reaper.LabelledContainer, len(rows))
	for i, row := range rows {
		out[i] = reaper.LabelledContainer{
			ContainerID: row.ContainerID,
			SessionID:   row.SessionID,
			UserID:      row.UserID,
			CreatedAt:   row.CreatedAt,
		}
	}
	return out, nil
}
