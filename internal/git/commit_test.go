package git

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
		return strings.TrimRight(string(out), "\n")
	}
	run("init", "--initial-branch=master")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(dir+"/f.txt", []byte("one\n"), 0644))
	run("add", ".")
	run("commit", "-m", "First commit\n\nWith a body.")
	require.NoError(t, os.WriteFile(dir+"/f.txt", []byte("two\n"), 0644))
	run("add", ".")
	run("commit", "-m", "Second commit")
	return NewClientAt(dir)
}

func TestRevListParsesHeaders(t *testing.T) {
	g := newTestRepo(t)

	commits, err := g.RevList("--topo-order", "--reverse", "HEAD")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	first, second := commits[0], commits[1]
	assert.Equal(t, "First commit\n\nWith a body.", first.Message)
	assert.Equal(t, "First commit", first.Subject())
	assert.Empty(t, first.Parents)
	assert.Len(t, first.Tree, 40)
	assert.Equal(t, "Test User", first.Author.Name)
	assert.Equal(t, "test@example.com", first.Author.Email)

	require.Len(t, second.Parents, 1)
	assert.Equal(t, first.Hash, second.Parents[0])
}

func TestReadCommit(t *testing.T) {
	g := newTestRepo(t)
	c, err := g.ReadCommit("HEAD")
	require.NoError(t, err)
	assert.Equal(t, "Second commit", c.Message)
	hash, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, hash, c.Hash)
}

func TestCommitTreePreservesAuthor(t *testing.T) {
	g := newTestRepo(t)
	head, err := g.ReadCommit("HEAD")
	require.NoError(t, err)

	newHash, err := g.CommitTree(head.Tree, []string{head.Hash}, "Synthesized commit",
		&Author{Name: "Original Author", Email: "orig@example.com"})
	require.NoError(t, err)

	c, err := g.ReadCommit(newHash)
	require.NoError(t, err)
	assert.Equal(t, "Synthesized commit", c.Message)
	assert.Equal(t, "Original Author", c.Author.Name)
	assert.Equal(t, head.Tree, c.Tree)
	assert.Equal(t, []string{head.Hash}, c.Parents)
}

func TestIsAncestor(t *testing.T) {
	g := newTestRepo(t)
	first, err := g.RevParse("HEAD~1")
	require.NoError(t, err)
	head, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.True(t, g.IsAncestor(first, head))
	assert.False(t, g.IsAncestor(head, first))
}

func TestGitErrorsCarryCommand(t *testing.T) {
	g := newTestRepo(t)
	_, err := g.RevParse("does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git rev-parse does-not-exist")
}

func TestTryRevParse(t *testing.T) {
	g := newTestRepo(t)
	assert.NotEmpty(t, g.TryRevParse("HEAD"))
	assert.Empty(t, g.TryRevParse("no-such-ref"))
}
