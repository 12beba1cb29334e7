// Package workspace implements file operations against the writable
// /workspace tmpfs mount inside a running sandbox container. Because the
// container's root filesystem is read-only, every operation goes through
// in-container shell utilities over exec rather than the Docker archive
// API, which can fail against a read-only rootfs.
package workspace

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/icexec/icexec/internal/sanitize"
)

// Sentinel errors surfaced by workspace operations.
var (
	ErrPathNotFound = errors.New("path not found")
	ErrIsDirectory  = errors.New("path is a directory")
	ErrFileTooLarge = errors.New("file exceeds max size")
)

// writeChunkRawSize is the raw byte size of each chunk written during a
// chunked base64 write; exec argv length is bounded, so large payloads
// must be staged in pieces.
const writeChunkRawSize = 24 * 1024

// ExecResult is the outcome of a single in-container exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec is the capability this package needs from the container runtime:
// run a command inside a container and capture its output.
type Exec interface {
	Exec(ctx context.Context, containerID, command, workdir string, uid, gid int64) (*ExecResult, error)
}

// Entry is one row of a directory listing.
type Entry struct {
	Name string
	Type string // "file" or "dir"
}

// Service implements list/read/write/delete against a container's
// workspace, given a path that has already been sanitized.
type Service struct {
	exec     Exec
	uid, gid int64
}

// New builds a workspace Service.
func New(exec Exec, uid, gid int64) *Service {
	return &Service{exec: exec, uid: uid, gid: gid}
}

func (s *Service) run(ctx context.Context, containerID, command string) (*ExecResult, error) {
	return s.exec.Exec(ctx, containerID, command, "/workspace", s.uid, s.gid)
}

// List returns the sorted directory listing at relpath (already sanitized).
// Sort order is (lowercased name, type) to match the reference behavior
// exactly.
func (s *Service) List(ctx context.Context, containerID, relpath string) ([]Entry, error) {
	abs := sanitize.AbsPath(relpath)
	cmd := fmt.Sprintf("ls -1p %s", shellQuote(abs))

	res, err := s.run(ctx, containerID, cmd)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if res.ExitCode != 0 {
		if looksLikeMissing(res.Stderr) {
			return nil, ErrPathNotFound
		}
		return nil, fmt.Errorf("list: %s", strings.TrimSpace(res.Stderr))
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "/") {
			entries = append(entries, Entry{Name: strings.TrimSuffix(line, "/"), Type: "dir"})
		} else {
			entries = append(entries, Entry{Name: line, Type: "file"})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		li, lj := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if li != lj {
			return li < lj
		}
		return entries[i].Type < entries[j].Type
	})

	return entries, nil
}

// ReadResult is the outcome of Read: the raw content and which encoding it
// is presented in.
type ReadResult struct {
	Content  string
	Encoding string // "utf8" or "base64"
}

// Read returns the content at relpath, decoded as UTF-8 when valid, else
// base64-encoded with Encoding set accordingly. maxSize <= 0 disables the
// size check.
func (s *Service) Read(ctx context.Context, containerID, relpath string, maxSize int64) (*ReadResult, error) {
	abs := sanitize.AbsPath(relpath)
	cmd := fmt.Sprintf("cat %s", shellQuote(abs))

	res, err := s.run(ctx, containerID, cmd)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if res.ExitCode != 0 {
		if looksLikeMissing(res.Stderr) {
			return nil, ErrPathNotFound
		}
		if strings.Contains(strings.ToLower(res.Stderr), "directory") {
			return nil, ErrIsDirectory
		}
		return nil, fmt.Errorf("read: %s", strings.TrimSpace(res.Stderr))
	}

	if maxSize > 0 && int64(len(res.Stdout)) > maxSize {
		return nil, ErrFileTooLarge
	}

	if utf8.ValidString(res.Stdout) {
		return &ReadResult{Content: res.Stdout, Encoding: "utf8"}, nil
	}
	return &ReadResult{Content: base64.StdEncoding.EncodeToString([]byte(res.Stdout)), Encoding: "base64"}, nil
}

// Write stores content at relpath, creating parent directories as needed
// and chunking the payload through base64-encoded exec calls because exec
// argv length is bounded. An empty payload just touches the target.
// maxSize <= 0 disables the size check.
func (s *Service) Write(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error {
	if maxSize > 0 && int64(len(content)) > maxSize {
		return ErrFileTooLarge
	}

	abs := sanitize.AbsPath(relpath)

	if idx := strings.LastIndex(relpath, "/"); idx >= 0 {
		parent := sanitize.AbsPath(relpath[:idx])
		cmd := fmt.Sprintf("mkdir -p %s", shellQuote(parent))
		res, err := s.run(ctx, containerID, cmd)
		if err != nil {
			return fmt.Errorf("write: mkdir: %w", err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("write: mkdir: %s", strings.TrimSpace(res.Stderr))
		}
	}

	if len(content) == 0 {
		cmd := fmt.Sprintf("touch %s", shellQuote(abs))
		res, err := s.run(ctx, containerID, cmd)
		if err != nil {
			return fmt.Errorf("write: touch: %w", err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("write: touch: %s", strings.TrimSpace(res.Stderr))
		}
		return nil
	}

	for i := 0; i < len(content); i += writeChunkRawSize {
		end := i + writeChunkRawSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[i:end]
		b64 := base64.StdEncoding.EncodeToString(chunk)
		redirect := ">"
		if i > 0 {
			redirect = ">>"
		}
		cmd := fmt.Sprintf("echo %s | base64 -d %s %s", shellQuote(b64), redirect, shellQuote(abs))

		res, err := s.run(ctx, containerID, cmd)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("write: %s", strings.TrimSpace(res.Stderr))
		}
	}

	return nil
}

// Delete removes relpath, refusing to delete the workspace root itself.
func (s *Service) Delete(ctx context.Context, containerID, relpath string) error {
	abs := sanitize.AbsPath(relpath)
	if abs == sanitize.WorkspaceRoot {
		return fmt.Errorf("cannot delete workspace root")
	}

	cmd := fmt.Sprintf("rm -rf %s", shellQuote(abs))
	res, err := s.run(ctx, containerID, cmd)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if res.ExitCode != 0 {
		combined := res.Stdout + res.Stderr
		if looksLikeMissing(combined) {
			return ErrPathNotFound
		}
		return fmt.Errorf("delete: %s", strings.TrimSpace(combined))
	}
	return nil
}

// Upload feeds the facade's already-decoded multipart payload through the
// same write path; there is no separate wire format on the core side.
func (s *Service) Upload(ctx context.Context, containerID, relpath string, content []byte, maxSize int64) error {
	return s.Write(ctx, containerID, relpath, content, maxSize)
}

func looksLikeMissing(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "no such file") || strings.Contains(low, "not found") || strings.Contains(low, "cannot open")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}
