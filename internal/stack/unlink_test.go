package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezyang/ghstack/internal/github/githubfake"
	"github.com/ezyang/ghstack/internal/testutil"
	"github.com/ezyang/ghstack/internal/trailers"
)

func TestUnlinkWholeStack(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")
	submit(t, g, fake)

	treeBefore := testutil.Git(t, g.Root(), "rev-parse", "HEAD^{tree}")

	u := &Unlinker{Git: g, Cfg: testConfig()}
	_, err := u.Run(nil, "master")
	require.NoError(t, err)

	// Trailers are gone, trees are untouched.
	assert.Equal(t, treeBefore, testutil.Git(t, g.Root(), "rev-parse", "HEAD^{tree}"))
	for _, ref := range []string{"HEAD", "HEAD~1"} {
		msg := trailers.Parse(testutil.MessageOf(t, g.Root(), ref))
		assert.Empty(t, msg.PullRequestURL, "%s must lose its PR trailer", ref)
		assert.Empty(t, msg.SourceID)
	}
}

func TestUnlinkSubset(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")
	submit(t, g, fake)

	bottomBefore := testutil.Git(t, g.Root(), "rev-parse", "HEAD~1")

	u := &Unlinker{Git: g, Cfg: testConfig()}
	_, err := u.Run([]string{"HEAD"}, "master")
	require.NoError(t, err)

	// Only the selected commit lost its trailers; the one below it kept
	// both trailers and hash.
	assert.Equal(t, bottomBefore, testutil.Git(t, g.Root(), "rev-parse", "HEAD~1"))
	top := trailers.Parse(testutil.MessageOf(t, g.Root(), "HEAD"))
	assert.Empty(t, top.PullRequestURL)
	bottom := trailers.Parse(testutil.MessageOf(t, g.Root(), "HEAD~1"))
	assert.NotEmpty(t, bottom.PullRequestURL)
}

func TestUnlinkOffStackCommitRejected(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")

	u := &Unlinker{Git: g, Cfg: testConfig()}
	_, err := u.Run([]string{"origin/master"}, "master")
	require.Error(t, err)
	assert.ErrorContains(t, err, "current stack")
}

func TestUnlinkThenResubmitOpensFreshPR(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	submit(t, g, fake)

	u := &Unlinker{Git: g, Cfg: testConfig()}
	_, err := u.Run(nil, "master")
	require.NoError(t, err)

	diffs := submit(t, g, fake)
	require.Len(t, diffs, 1)
	assert.Equal(t, "Created", diffs[0].What)
	assert.Equal(t, 501, diffs[0].Number, "resubmit after unlink opens a new PR")
	assert.Equal(t, 2, diffs[0].GhNum, "the old ghnum is still in use by the open PR")
}
