package stack

import (
	"context"
	"fmt"

	"github.com/ezyang/ghstack/internal/config"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/trailers"
	"github.com/ezyang/ghstack/internal/ui"
)

// landPushRetries bounds the fetch-and-retry loop on a non-fast-forward
// push race.
const landPushRetries = 3

// Lander fast-forwards the upstream default branch with a landed stack
// prefix, then closes the PRs and deletes their branches.
//
// Landing PR #k lands #1..#k and leaves #(k+1).. open.
type Lander struct {
	Git   *git.Client
	Forge github.Endpoint
	Cfg   *config.Config

	// Force skips the check that the local stack matches the forge.
	Force bool
}

// landedDiff is one PR in the prefix being landed.
type landedDiff struct {
	number   int
	username string
	ghnum    int
	orig     git.Commit
}

// Run lands the stack prefix ending at the given PR URL.
func (l *Lander) Run(ctx context.Context, pullRequest string) error {
	host, owner, name, number, err := ParsePullURL(pullRequest)
	if err != nil {
		return UserErrorf("%v", err)
	}
	if host != l.Cfg.GithubURL {
		return UserErrorf("pull request %s is not on %s", pullRequest, l.Cfg.GithubURL)
	}

	repo, err := l.Forge.GetRepo(ctx, owner, name)
	if err != nil {
		return err
	}

	if err := l.Git.Fetch(l.Cfg.RemoteName); err != nil {
		return err
	}

	target, err := l.Forge.GetPR(ctx, owner, name, number)
	if err != nil {
		return err
	}
	if target.Closed {
		return UserErrorf("PR #%d is already closed, cannot land it", number)
	}
	targetUser, targetNum, ok := ParseHeadRef(target.HeadRef)
	if !ok {
		return UserErrorf("PR #%d does not look like a ghstack pull request (head is %s)", number, target.HeadRef)
	}

	prefix, err := l.stackPrefix(ctx, repo, targetUser, targetNum, number)
	if err != nil {
		return err
	}

	if err := l.checkUpToDate(prefix); err != nil {
		return err
	}

	tip, err := l.pushLanded(repo, prefix)
	if err != nil {
		return err
	}
	ui.Successf("Landed %d commit(s) onto %s (%s)", len(prefix), repo.DefaultBranch, git.ShortHash(tip))

	return l.cleanup(ctx, repo, prefix)
}

// stackPrefix walks the target PR's orig branch down to the trunk merge base
// and resolves every commit to its PR, bottom first. Every PR in the prefix
// must be open.
func (l *Lander) stackPrefix(ctx context.Context, repo *github.Repo, username string, ghnum, targetNumber int) ([]landedDiff, error) {
	origRef := l.Cfg.RemoteName + "/" + BranchOrig(username, ghnum)
	base, err := l.Git.MergeBase(l.Cfg.RemoteName+"/"+repo.DefaultBranch, origRef)
	if err != nil {
		return nil, err
	}
	commits, err := l.Git.RevList("--reverse", "--topo-order", origRef, "^"+base)
	if err != nil {
		return nil, err
	}

	var prefix []landedDiff
	for _, c := range commits {
		msg := trailers.Parse(c.Message)
		if msg.PullRequestURL == "" {
			return nil, Invariantf("orig commit %s has no pull request trailer; the stack on %s is corrupt",
				git.ShortHash(c.Hash), l.Cfg.RemoteName)
		}
		_, _, _, n, err := ParsePullURL(msg.PullRequestURL)
		if err != nil {
			return nil, err
		}
		pr, err := l.Forge.GetPR(ctx, repo.Owner, repo.Name, n)
		if err != nil {
			return nil, err
		}
		if pr.Closed {
			return nil, UserErrorf(
				"PR #%d below the one you are landing is already closed; "+
					"rebase past it and resubmit before landing", n)
		}
		user, gn, ok := ParseHeadRef(pr.HeadRef)
		if !ok {
			return nil, Invariantf("PR #%d head %q is not a ghstack branch", n, pr.HeadRef)
		}
		prefix = append(prefix, landedDiff{number: n, username: user, ghnum: gn, orig: c})
		if n == targetNumber {
			return prefix, nil
		}
	}
	return nil, Invariantf("PR #%d was not found on its own orig branch %s", targetNumber, origRef)
}

// checkUpToDate verifies the local checkout agrees with the forge for every
// PR being landed: for each landed diff present on the local stack, the
// local trailer source id must match what the engine last wrote to orig.
func (l *Lander) checkUpToDate(prefix []landedDiff) error {
	if l.Force {
		return nil
	}
	local := map[int]string{}
	if l.Git.TryRevParse("HEAD") == "" {
		return nil
	}
	// Index the recent local history by PR number.
	commits, err := l.Git.RevList("--max-count=64", "HEAD")
	if err != nil {
		return nil
	}
	for _, c := range commits {
		msg := trailers.Parse(c.Message)
		if msg.PullRequestURL == "" {
			continue
		}
		if _, _, _, n, err := ParsePullURL(msg.PullRequestURL); err == nil {
			if _, dup := local[n]; !dup {
				local[n] = msg.SourceID
			}
		}
	}
	for _, d := range prefix {
		localID, ok := local[d.number]
		if !ok {
			continue
		}
		remoteID := trailers.Parse(d.orig.Message).SourceID
		if remoteID != "" && localID != remoteID {
			return UserErrorf(
				"the stack was updated on GitHub since you last pushed: PR #%d "+
					"does not match your local commit. Submit or `ghstack checkout` "+
					"the latest version, or rerun with --force",
				d.number)
		}
	}
	return nil
}

// pushLanded builds the landed commit chain on top of the upstream default
// branch and pushes it as a fast-forward, retrying a bounded number of times
// when another writer advances the branch underneath us.
func (l *Lander) pushLanded(repo *github.Repo, prefix []landedDiff) (string, error) {
	upstream := l.Cfg.RemoteName + "/" + repo.DefaultBranch
	var lastErr error
	for attempt := 0; attempt < landPushRetries; attempt++ {
		if attempt > 0 {
			if err := l.Git.Fetch(l.Cfg.RemoteName); err != nil {
				return "", err
			}
		}
		tip, err := l.Git.RevParse(upstream)
		if err != nil {
			return "", err
		}
		for _, d := range prefix {
			msg := trailers.Parse(d.orig.Message)
			// The landed commit keeps the prose and preserved trailers;
			// the ghstack bookkeeping reduces to the canonical PR link.
			landedMsg := msg.StripGhstack()
			landedMsg.PullRequestURL = github.PullURL(l.Cfg.GithubURL, repo.Owner, repo.Name, d.number)
			author := d.orig.Author
			tip, err = l.Git.CommitTree(d.orig.Tree, []string{tip}, landedMsg.String(), &author)
			if err != nil {
				return "", err
			}
		}
		err = l.Git.Push(l.Cfg.RemoteName, []string{git.PushSpec(tip, repo.DefaultBranch)}, false)
		if err == nil {
			return tip, nil
		}
		lastErr = err
		ui.Warningf("push to %s was not a fast-forward, retrying (%d/%d)", repo.DefaultBranch, attempt+1, landPushRetries)
	}
	return "", UserErrorf("could not fast-forward %s after %d attempts: %v", repo.DefaultBranch, landPushRetries, lastErr)
}

// cleanup closes the landed PRs, deletes their branches, and records each
// ghnum as consumed so allocation never reuses it.
func (l *Lander) cleanup(ctx context.Context, repo *github.Repo, prefix []landedDiff) error {
	for _, d := range prefix {
		if err := l.Forge.ClosePR(ctx, repo.Owner, repo.Name, d.number); err != nil {
			return err
		}

		// The consumed marker must land before the branches disappear, or
		// an interrupted cleanup could free the number for reallocation.
		marker := fmt.Sprintf("%s:refs/ghstack/consumed/%s/%d", d.orig.Hash, d.username, d.ghnum)
		if err := l.Git.Push(l.Cfg.RemoteName, []string{marker}, false); err != nil {
			ui.Warningf("failed to record consumed number %d: %v", d.ghnum, err)
		}

		for _, branch := range []string{
			BranchOrig(d.username, d.ghnum),
			BranchBase(d.username, d.ghnum),
			BranchHead(d.username, d.ghnum),
		} {
			if err := l.Forge.DeleteBranch(ctx, repo.Owner, repo.Name, branch); err != nil {
				// Head branches in particular are often auto-deleted on
				// close; keep going.
				ui.Warningf("failed to delete branch %s: %v", branch, err)
			}
		}
		ui.Successf("Closed %s", github.PullURL(l.Cfg.GithubURL, repo.Owner, repo.Name, d.number))
	}
	return nil
}
