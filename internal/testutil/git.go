// Package testutil creates real temporary git repositories for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ezyang/ghstack/internal/git"
)

// Git runs a git command in dir and returns its trimmed output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_DATE=2024-01-01T00:00:00Z",
		"GIT_COMMITTER_DATE=2024-01-01T00:00:00Z",
	)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s failed: %s", strings.Join(args, " "), string(output))
	return strings.TrimRight(string(output), "\n")
}

// NewRepoPair creates a bare "origin" repository and a working clone with
// one initial commit pushed to master. Returns a client for the working
// repository and the path of the bare one.
func NewRepoPair(t *testing.T) (*git.Client, string) {
	t.Helper()
	origin := t.TempDir()
	work := t.TempDir()

	Git(t, origin, "init", "--bare", "--initial-branch=master")

	Git(t, work, "init", "--initial-branch=master")
	Git(t, work, "config", "user.name", "Test User")
	Git(t, work, "config", "user.email", "test@example.com")
	Git(t, work, "remote", "add", "origin", origin)

	client := git.NewClientAt(work)
	WriteAndCommit(t, client, "README.md", "hello\n", "Initial commit")
	Git(t, work, "push", "origin", "master")
	Git(t, work, "fetch", "origin")

	return client, origin
}

// WriteAndCommit writes a file and commits it with the given message.
// Returns the new commit hash.
func WriteAndCommit(t *testing.T, g *git.Client, file, content, msg string) string {
	t.Helper()
	path := filepath.Join(g.Root(), file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	Git(t, g.Root(), "add", ".")
	Git(t, g.Root(), "commit", "-m", msg)
	return Git(t, g.Root(), "rev-parse", "HEAD")
}

// AmendFile changes a file's content and amends it into HEAD, keeping the
// message. Returns the new commit hash.
func AmendFile(t *testing.T, g *git.Client, file, content string) string {
	t.Helper()
	path := filepath.Join(g.Root(), file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	Git(t, g.Root(), "add", ".")
	Git(t, g.Root(), "commit", "--amend", "--no-edit")
	return Git(t, g.Root(), "rev-parse", "HEAD")
}

// MessageOf returns the full commit message of a ref in dir.
func MessageOf(t *testing.T, dir, ref string) string {
	t.Helper()
	return Git(t, dir, "log", "--format=%B", "-n", "1", ref)
}

// CountCommits counts commits reachable from ref but not from stop in dir.
func CountCommits(t *testing.T, dir, ref, stop string) int {
	t.Helper()
	out := Git(t, dir, "rev-list", "--count", ref, "^"+stop)
	n := 0
	for _, c := range out {
		n = n*10 + int(c-'0')
	}
	return n
}
