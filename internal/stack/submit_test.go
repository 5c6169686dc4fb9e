package stack

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezyang/ghstack/internal/config"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/github/githubfake"
	"github.com/ezyang/ghstack/internal/testutil"
	"github.com/ezyang/ghstack/internal/trailers"
)

func testConfig() *config.Config {
	return &config.Config{
		GithubURL:      "github.com",
		GithubUsername: "testuser",
		GithubOAuth:    "token",
		RemoteName:     "origin",
	}
}

func newTestSubmitter(g *git.Client, forge github.Endpoint) *Submitter {
	return &Submitter{
		Git:       g,
		Forge:     forge,
		Cfg:       testConfig(),
		RepoOwner: "pytorch",
		RepoName:  "pytorch",
	}
}

func submit(t *testing.T, g *git.Client, forge github.Endpoint) []*Diff {
	t.Helper()
	diffs, err := newTestSubmitter(g, forge).Run(context.Background())
	require.NoError(t, err)
	return diffs
}

func TestSubmitSingleCommit(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "feature.txt", "v1\n", "Add feature\n\nThis adds the feature.")
	diffs := submit(t, g, fake)

	require.Len(t, diffs, 1)
	assert.Equal(t, "Created", diffs[0].What)
	assert.Equal(t, 500, diffs[0].Number)
	assert.Equal(t, 1, diffs[0].GhNum)

	pr, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 500)
	require.NoError(t, err)
	assert.Equal(t, "Add feature", pr.Title)
	assert.Equal(t, "gh/testuser/1/head", pr.HeadRef)
	assert.Equal(t, "gh/testuser/1/base", pr.BaseRef)
	assert.Contains(t, pr.Body, "* __->__ #500\n")
	assert.Contains(t, pr.Body, "This adds the feature.")

	// The orig branch carries the canonical trailers.
	origMsg := testutil.MessageOf(t, origin, "gh/testuser/1/orig")
	assert.Contains(t, origMsg, "Pull Request resolved: https://github.com/pytorch/pytorch/pull/500")
	assert.Contains(t, origMsg, "ghstack-source-id: ")

	// The recorded source id matches a local recomputation (invariant 1).
	origHash := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/orig")
	origCommit, err := g.ReadCommit(origHash)
	require.NoError(t, err)
	msg := trailers.Parse(origCommit.Message)
	assert.Equal(t, msg.SourceID, trailers.SourceID(origCommit.Tree, msg))

	// The local HEAD was restacked onto the rewritten commit.
	head, err := g.RevParse("HEAD")
	require.NoError(t, err)
	assert.Equal(t, origHash, head)

	// Head and base are poisoned synthetic commits.
	assert.Contains(t, testutil.MessageOf(t, origin, "gh/testuser/1/head"), "[ghstack-poisoned]")
	assert.Contains(t, testutil.MessageOf(t, origin, "gh/testuser/1/base"), "[ghstack-poisoned]")
}

func TestSubmitAmendAppendsToHead(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "feature.txt", "v1\n", "Add feature")
	submit(t, g, fake)
	headBefore := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head")

	testutil.AmendFile(t, g, "feature.txt", "v2\n")
	diffs := submit(t, g, fake)

	require.Len(t, diffs, 1)
	assert.Equal(t, "Updated", diffs[0].What)
	assert.Equal(t, 500, diffs[0].Number, "amend must not open a new PR")

	// Head grew by exactly one commit, no force push (invariant 2).
	headAfter := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head")
	assert.NotEqual(t, headBefore, headAfter)
	assert.Equal(t, headBefore, testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head~1"))

	// orig now points at the amended commit's tree.
	localTree := testutil.Git(t, g.Root(), "rev-parse", "HEAD^{tree}")
	assert.Equal(t, localTree, testutil.Git(t, origin, "rev-parse", "gh/testuser/1/orig^{tree}"))
}

func TestSubmitIdempotent(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")
	submit(t, g, fake)

	headA := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head")
	headB := testutil.Git(t, origin, "rev-parse", "gh/testuser/2/head")
	origA := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/orig")

	diffs := submit(t, g, fake)
	require.Len(t, diffs, 2)
	assert.Equal(t, "Skipped", diffs[0].What)
	assert.Equal(t, "Skipped", diffs[1].What)
	assert.Equal(t, headA, testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head"))
	assert.Equal(t, headB, testutil.Git(t, origin, "rev-parse", "gh/testuser/2/head"))
	assert.Equal(t, origA, testutil.Git(t, origin, "rev-parse", "gh/testuser/1/orig"))
}

func TestSubmitStackOfTwo(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")
	diffs := submit(t, g, fake)

	require.Len(t, diffs, 2)
	assert.Equal(t, 500, diffs[0].Number)
	assert.Equal(t, 501, diffs[1].Number)

	// Navigator lists the whole stack, top first, on both PRs.
	for _, number := range []int{500, 501} {
		pr, err := fake.GetPR(context.Background(), "pytorch", "pytorch", number)
		require.NoError(t, err)
		assert.Contains(t, pr.Body, "* #"+map[int]string{500: "501", 501: "500"}[number])
		assert.Contains(t, pr.Body, fmt.Sprintf("* __->__ #%d", number))
	}
}

func TestSubmitReorderKeepsPRs(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")
	submit(t, g, fake)

	headA := testutil.Git(t, origin, "rev-parse", "gh/testuser/1/head")
	headB := testutil.Git(t, origin, "rev-parse", "gh/testuser/2/head")

	// Reorder to B, A.
	hashA := testutil.Git(t, g.Root(), "rev-parse", "HEAD~1")
	hashB := testutil.Git(t, g.Root(), "rev-parse", "HEAD")
	testutil.Git(t, g.Root(), "reset", "--hard", "HEAD~2")
	testutil.Git(t, g.Root(), "cherry-pick", hashB)
	testutil.Git(t, g.Root(), "cherry-pick", hashA)

	diffs := submit(t, g, fake)
	require.Len(t, diffs, 2)

	// The PRs kept their ghnums and numbers (property 6).
	assert.Equal(t, 501, diffs[0].Number, "B stays on PR 501")
	assert.Equal(t, 500, diffs[1].Number, "A stays on PR 500")
	_, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 502)
	assert.Error(t, err, "no new PR may be created by a reorder")

	// Branch histories are suffix extensions of the old ones.
	testutil.Git(t, origin, "merge-base", "--is-ancestor", headA, "gh/testuser/1/head")
	testutil.Git(t, origin, "merge-base", "--is-ancestor", headB, "gh/testuser/2/head")
}

func TestSubmitClosedPRDeletedBranchRejected(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	submit(t, g, fake)

	// The PR gets closed and its branches deleted (as land would do).
	require.NoError(t, fake.ClosePR(context.Background(), "pytorch", "pytorch", 500))
	for _, kind := range []string{"orig", "base", "head"} {
		testutil.Git(t, origin, "update-ref", "-d", "refs/heads/gh/testuser/1/"+kind)
	}

	testutil.AmendFile(t, g, "a.txt", "a2\n")
	_, err := newTestSubmitter(g, fake).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "closed PR #500")
	var userErr *UserError
	assert.ErrorAs(t, err, &userErr)
}

func TestSubmitConcurrentEditRejected(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	submit(t, g, fake)
	stale := testutil.Git(t, g.Root(), "rev-parse", "HEAD")

	// Push an update from "this" machine...
	testutil.AmendFile(t, g, "a.txt", "a2\n")
	submit(t, g, fake)

	// ...then rewind to the stale copy and amend it, as if another
	// machine had never seen the second push.
	testutil.Git(t, g.Root(), "reset", "--hard", stale)
	testutil.AmendFile(t, g, "a.txt", "a3\n")

	_, err := newTestSubmitter(g, fake).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "cowardly refusing to push an update")

	// --force overrides the fence.
	s := newTestSubmitter(g, fake)
	s.Force = true
	_, err = s.Run(context.Background())
	assert.NoError(t, err)
}

func TestSubmitDuplicateGhnumRejected(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	submit(t, g, fake)

	// A botched rebase duplicates the commit, trailer and all.
	msg := testutil.MessageOf(t, g.Root(), "HEAD")
	testutil.WriteAndCommit(t, g, "dup.txt", "dup\n", msg)

	_, err := newTestSubmitter(g, fake).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "occurs twice in your local commit stack")
}

func TestSubmitEmptyCommitIgnored(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.Git(t, g.Root(), "commit", "--allow-empty", "-m", "Empty commit")
	diffs := submit(t, g, fake)

	require.Len(t, diffs, 2)
	assert.Equal(t, "Created", diffs[0].What)
	assert.Equal(t, "Ignored", diffs[1].What)
	_, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 501)
	assert.Error(t, err, "the empty commit must not get a PR")
}

func TestSubmitNonDefaultBase(t *testing.T) {
	g, origin := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.Git(t, g.Root(), "push", "origin", "master:release")
	testutil.Git(t, g.Root(), "fetch", "origin")
	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")

	s := newTestSubmitter(g, fake)
	s.BaseOpt = "release"
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// The bottom base commit ties into the release branch.
	releaseTip := testutil.Git(t, origin, "rev-parse", "release")
	assert.Equal(t, releaseTip, testutil.Git(t, origin, "rev-parse", "gh/testuser/1/base~1"))
}

func TestSubmitDirectMode(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")

	s := newTestSubmitter(g, fake)
	direct := true
	s.DirectOpt = &direct
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	prA, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 500)
	require.NoError(t, err)
	prB, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 501)
	require.NoError(t, err)

	// Stack navigation lives in the baseRefName graph, not the body.
	assert.Equal(t, "master", prA.BaseRef)
	assert.Equal(t, "gh/testuser/1/head", prB.BaseRef)
	assert.NotContains(t, prA.Body, "Stack from")

	// The navigator comment carries the whole stack.
	assert.Contains(t, fake.Comment(1500), "* __->__ #500")
	assert.Contains(t, fake.Comment(1500), "* #501")
}

func TestSubmitDirectReorderRetargetsBase(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A")
	testutil.WriteAndCommit(t, g, "b.txt", "b\n", "Commit B")

	direct := true
	s := newTestSubmitter(g, fake)
	s.DirectOpt = &direct
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	hashA := testutil.Git(t, g.Root(), "rev-parse", "HEAD~1")
	hashB := testutil.Git(t, g.Root(), "rev-parse", "HEAD")
	testutil.Git(t, g.Root(), "reset", "--hard", "HEAD~2")
	testutil.Git(t, g.Root(), "cherry-pick", hashB)
	testutil.Git(t, g.Root(), "cherry-pick", hashA)

	s = newTestSubmitter(g, fake)
	s.DirectOpt = &direct
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	prA, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 500)
	require.NoError(t, err)
	prB, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 501)
	require.NoError(t, err)
	assert.Equal(t, "gh/testuser/2/head", prA.BaseRef, "A now sits on top of B")
	assert.Equal(t, "master", prB.BaseRef, "B is now the bottom of the stack")
}

func TestSubmitPreservesRemoteProse(t *testing.T) {
	g, _ := testutil.NewRepoPair(t)
	fake := githubfake.NewEndpoint("pytorch", "pytorch", "master")

	testutil.WriteAndCommit(t, g, "a.txt", "a\n", "Commit A\n\nLocal prose.")
	submit(t, g, fake)

	// A reviewer edits the body on GitHub.
	edited := "Stack from [ghstack](https://github.com/ezyang/ghstack) (oldest at bottom):\n* __->__ #500\n\nReviewer-improved prose.\n"
	body := edited
	require.NoError(t, fake.UpdatePR(context.Background(), "pytorch", "pytorch", 500, github.UpdatePROpts{Body: &body}))

	testutil.AmendFile(t, g, "a.txt", "a2\n")
	submit(t, g, fake)

	pr, err := fake.GetPR(context.Background(), "pytorch", "pytorch", 500)
	require.NoError(t, err)
	assert.Contains(t, pr.Body, "Reviewer-improved prose.", "no-clobber must preserve forge prose")

	// With update-fields the local commit message wins.
	s := newTestSubmitter(g, fake)
	s.UpdateFields = true
	s.NoSkip = true
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	pr, err = fake.GetPR(context.Background(), "pytorch", "pytorch", 500)
	require.NoError(t, err)
	assert.Contains(t, pr.Body, "Local prose.")
	assert.NotContains(t, pr.Body, "Reviewer-improved prose.")
}
