// Package dockerrt adapts the Docker Engine API to the narrow capability
// interface the orchestrator, workspace service, and reaper need: create,
// start, inspect, exec, remove, and label-based listing. It is the one
// place in the system that imports the Docker SDK.
package dockerrt

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/icexec/icexec/internal/config"
)

// Labels stamped on every sandbox container. SessionLabel is also used as
// the selector when listing containers managed by this service.
const (
	SessionLabel   = "exec.session_id"
	UserLabel      = "exec.user_id"
	CreatedAtLabel = "exec.created_at"
)

const createdAtLayout = time.RFC3339

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// SanitizeName keeps only alphanumerics and hyphens, truncated to 64
// characters — Docker's container name constraint.
func SanitizeName(s string) string {
	out := nameSanitizer.ReplaceAllString(s, "-")
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// ContainerName derives the stable name for a session's sandbox container.
func ContainerName(userID, sessionID string) string {
	name := fmt.Sprintf("exec-%s-%s", SanitizeName(userID), SanitizeName(sessionID))
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Client adapts the Docker Engine API client to this service's needs.
type Client struct {
	docker *client.Client
	cfg    *config.Config
}

// New builds a Client from the ambient Docker environment (DOCKER_HOST and
// friends), negotiating the API version with the daemon.
func New(cfg *config.Config) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli, cfg: cfg}, nil
}

// Close releases the underlying Docker client's resources.
func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// CreateOpts parameterizes sandbox container creation.
type CreateOpts struct {
	SessionID string
	UserID    string
}

// Create builds and starts a sandbox container with the isolation profile
// from configuration: no network, all capabilities dropped,
// no-new-privileges, read-only root, non-root uid:gid, resource ceilings,
// and a dual tmpfs mount for /tmp and /workspace. Returns the container id.
func (c *Client) Create(ctx context.Context, opts CreateOpts) (string, error) {
	iso := c.cfg.Isolation
	now := time.Now().UTC().Format(createdAtLayout)

	labels := map[string]string{
		UserLabel:      opts.UserID,
		SessionLabel:   opts.SessionID,
		CreatedAtLabel: now,
	}

	tmpfsSize, err := units.FromHumanSize(iso.TmpfsSize)
	if err != nil {
		return "", fmt.Errorf("parsing tmpfs_size: %w", err)
	}
	workspaceSize, err := units.FromHumanSize(iso.WorkspaceSize)
	if err != nil {
		return "", fmt.Errorf("parsing workspace_size: %w", err)
	}
	memLimit, err := units.RAMInBytes(iso.MemLimit)
	if err != nil {
		return "", fmt.Errorf("parsing mem_limit: %w", err)
	}
	memswapLimit, err := units.RAMInBytes(iso.MemswapLimit)
	if err != nil {
		return "", fmt.Errorf("parsing memswap_limit: %w", err)
	}

	resources := container.Resources{
		Memory:     memLimit,
		MemorySwap: memswapLimit,
		CPUPeriod:  iso.CPUPeriod,
		CPUQuota:   iso.CPUQuota,
		PidsLimit:  int64Ptr(iso.PidsLimit),
		Ulimits: []*units.Ulimit{
			{Name: "nofile", Soft: iso.UlimitNofileSoft, Hard: iso.UlimitNofileHard},
			{Name: "nproc", Soft: iso.UlimitNprocSoft, Hard: iso.UlimitNprocHard},
		},
	}

	hostCfg := &container.HostConfig{
		Resources:      resources,
		AutoRemove:     false,
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		NetworkMode:    "none",
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeTmpfs,
				Target: "/tmp",
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: tmpfsSize,
					Options:   [][]string{{"noexec"}, {"nosuid"}},
				},
			},
			{
				Type:   mount.TypeTmpfs,
				Target: "/workspace",
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: workspaceSize,
					Options:   [][]string{{"noexec"}, {"nosuid"}},
				},
			},
		},
	}

	containerCfg := &container.Config{
		Image:  c.cfg.ContainerImage,
		Labels: labels,
		User:   fmt.Sprintf("%d:%d", iso.UID, iso.GID),
		Cmd:    []string{"sleep", "infinity"},
		Tty:    false,
	}

	name := ContainerName(opts.UserID, opts.SessionID)

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

// ExecResult is the outcome of a single in-container exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs command as "sh -c <command>" inside containerID under the
// given uid:gid and working directory, demultiplexing stdout/stderr.
func (c *Client) Exec(ctx context.Context, containerID, command, workdir string, uid, gid int64) (*ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		User:         fmt.Sprintf("%d:%d", uid, gid),
		WorkingDir:   workdir,
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil {
		return nil, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// Status reports whether containerID exists and is running. A "not found"
// response from the daemon is reported as (false, false, nil) rather than
// an error, since callers treat it as a normal reconciliation branch.
func (c *Client) Status(ctx context.Context, containerID string) (exists bool, running bool, err error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("container inspect: %w", err)
	}
	return true, info.State.Running, nil
}

// Remove force-removes containerID. A "not found" response is swallowed —
// removal is idempotent.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// LabelledContainer is one row from ListByLabel.
type LabelledContainer struct {
	ContainerID string
	SessionID   string
	UserID      string
	CreatedAt   string // raw label value, ISO-8601 UTC
}

// ListByLabel enumerates all containers (including stopped) carrying the
// SessionLabel, for use by the reaper.
func (c *Client) ListByLabel(ctx context.Context) ([]LabelledContainer, error) {
	f := filters.NewArgs()
	f.Add("label", SessionLabel)

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	result := make([]LabelledContainer, 0, len(containers))
	for _, ctr := range containers {
		sessionID := ctr.Labels[SessionLabel]
		if sessionID == "" {
			continue
		}
		result = append(result, LabelledContainer{
			ContainerID: ctr.ID,
			SessionID:   sessionID,
			UserID:      ctr.Labels[UserLabel],
			CreatedAt:   ctr.Labels[CreatedAtLabel],
		})
	}
	return result, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
