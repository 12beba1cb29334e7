package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestWhitelist() *Whitelist {
	return New([]string{"echo", "cat", "ls", "python3"})
}

func TestCheckAllowed(t *testing.T) {
	wl := newTestWhitelist()
	assert.NoError(t, wl.Check("echo hello world"))
}

func TestCheckAllowedWithArgsAndQuotes(t *testing.T) {
	wl := newTestWhitelist()
	assert.NoError(t, wl.Check(`cat "some file.txt"`))
}

func TestCheckRejectsUnlistedBinary(t *testing.T) {
	wl := newTestWhitelist()
	assert.ErrorIs(t, wl.Check("nc -l 1234"), ErrCommandForbidden)
}

func TestCheckIsCaseInsensitive(t *testing.T) {
	wl := newTestWhitelist()
	assert.NoError(t, wl.Check("ECHO hi"))
}

func TestCheckStripsDirectoryPrefix(t *testing.T) {
	wl := newTestWhitelist()
	assert.NoError(t, wl.Check("/usr/bin/echo hi"))
}

func TestCheckRejectsEmpty(t *testing.T) {
	wl := newTestWhitelist()
	assert.ErrorIs(t, wl.Check(""), ErrCommandForbidden)
	assert.ErrorIs(t, wl.Check("   "), ErrCommandForbidden)
}

func TestCheckRejectsUnparseable(t *testing.T) {
	wl := newTestWhitelist()
	assert.ErrorIs(t, wl.Check(`echo "unterminated`), ErrCommandForbidden)
}
