// Package whitelist restricts the command surface exposed to a session to a
// configured set of binaries. It defends only against accidental misuse by
// an authorized principal — the sandbox container is the real security
// boundary.
package whitelist

import (
	"errors"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// ErrCommandForbidden is returned when the command's binary is not a member
// of the configured set.
var ErrCommandForbidden = errors.New("command not allowed by whitelist")

// Whitelist admits commands whose first shell-parsed token (basename,
// case-insensitive) is in the configured set.
type Whitelist struct {
	allowed map[string]struct{}
}

// New builds a Whitelist from a set of allowed binary names. Names are
// lowercased on insertion so matching is case-insensitive.
func New(allowedCommands []string) *Whitelist {
	allowed := make(map[string]struct{}, len(allowedCommands))
	for _, c := range allowedCommands {
		allowed[strings.ToLower(c)] = struct{}{}
	}
	return &Whitelist{allowed: allowed}
}

// Check parses command as a POSIX shell would, extracts the basename of the
// first token, and reports whether it is admitted. Returns ErrCommandForbidden
// for anything not on the list, including empty or unparseable input.
func (wl *Whitelist) Check(command string) error {
	stripped := strings.TrimSpace(command)
	if stripped == "" {
		return ErrCommandForbidden
	}

	parts, err := shellwords.Parse(stripped)
	if err != nil || len(parts) == 0 {
		return ErrCommandForbidden
	}

	binary := strings.ToLower(parts[0])
	if idx := strings.LastIndex(binary, "/"); idx >= 0 {
		binary = binary[idx+1:]
	}

	if _, ok := wl.allowed[binary]; !ok {
		return ErrCommandForbidden
	}
	return nil
}
