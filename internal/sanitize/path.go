// Package sanitize confines a client-supplied relative path to the sandbox
// workspace root. It is a pure function package: no filesystem access, no
// I/O, just string normalization.
package sanitize

import (
	"errors"
	"strings"
)

// ErrBadPath is returned when a path attempts to traverse above the
// workspace root via a ".." segment with nothing left to pop.
var ErrBadPath = errors.New("path escapes workspace")

// WorkspaceRoot is the absolute path of the writable tmpfs mount inside
// every sandbox container.
const WorkspaceRoot = "/workspace"

// Path normalizes an arbitrary client-supplied string into a
// workspace-relative path: no leading slash, no empty segments, "."
// removed, each ".." popping the previous segment. An empty input (or one
// consisting only of slashes and "." segments) yields "" (the workspace root
// itself). Returns ErrBadPath if a ".." would pop past the root.
func Path(raw string) (string, error) {
	p := strings.TrimLeft(strings.TrimSpace(raw), "/")
	if p == "" {
		return "", nil
	}

	segments := strings.Split(p, "/")
	resolved := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(resolved) == 0 {
				return "", ErrBadPath
			}
			resolved = resolved[:len(resolved)-1]
		default:
			resolved = append(resolved, seg)
		}
	}

	return strings.Join(resolved, "/"), nil
}

// AbsPath returns the absolute path inside the container for a path that
// has already been sanitized by Path.
func AbsPath(relative string) string {
	if relative == "" {
		return WorkspaceRoot
	}
	return WorkspaceRoot + "/" + relative
}
