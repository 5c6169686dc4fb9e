package stack

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/trailers"
	"github.com/ezyang/ghstack/internal/ui"
)

// classify determines the remote identity and action for every selected
// commit, oldest first. It performs only reads: the whole stack is
// classified before the submitter writes anything, so any rejection aborts
// with the remote untouched.
func (s *Submitter) classify(ctx context.Context, commits []git.Commit) ([]*Diff, error) {
	diffs := make([]*Diff, 0, len(commits))
	seen := map[int]bool{}

	for _, c := range commits {
		msg := trailers.Parse(c.Message)
		d := &Diff{
			Commit:   c,
			Msg:      msg,
			SourceID: trailers.SourceID(c.Tree, msg),
		}

		if msg.PullRequestURL == "" {
			d.Action = ActionNew
		} else if err := s.elaborate(ctx, d, seen); err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}

	if err := s.allocate(ctx, diffs, seen); err != nil {
		return nil, err
	}
	return diffs, nil
}

// elaborate queries the forge for the PR named in the commit's trailer and
// decides between Update, Skip, New (closed PR with a surviving branch) and
// the rejection cases.
func (s *Submitter) elaborate(ctx context.Context, d *Diff, seen map[int]bool) error {
	_, owner, name, number, err := ParsePullURL(d.Msg.PullRequestURL)
	if err != nil {
		return err
	}
	if owner != s.repo.Owner || name != s.repo.Name {
		return UserErrorf(
			"commit %s references %s/%s#%d, but you are submitting to %s/%s",
			git.ShortHash(d.Commit.Hash), owner, name, number, s.repo.Owner, s.repo.Name)
	}

	pr, err := s.Forge.GetPR(ctx, owner, name, number)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			// A trailer pointing at a PR the forge has never heard of
			// means the orig got pushed but the PR creation never
			// completed; start over with a fresh PR.
			d.Action = ActionNew
			return nil
		}
		return err
	}

	username, ghnum, ok := ParseHeadRef(pr.HeadRef)
	if !ok {
		return UserErrorf(
			"commit %s is associated with pull request #%d, but that PR does not "+
				"look like it was submitted by ghstack. If you think this is in error, "+
				"run `ghstack unlink %s` to disassociate the commit and try again "+
				"(this will create a new pull request!)",
			git.ShortHash(d.Commit.Hash), number, git.ShortHash(d.Commit.Hash))
	}

	origTip := s.Git.TryRevParse(s.Cfg.RemoteName + "/" + BranchOrig(username, ghnum))
	if origTip == "" {
		if pr.Closed {
			return UserErrorf(
				"cannot ghstack a stack with closed PR #%d whose branch was deleted. "+
					"If you were just trying to update a later PR in the stack, `git rebase` "+
					"and try again. Otherwise, you may have been trying to update a PR that "+
					"was already closed. To disassociate your update from the old PR and "+
					"open a new PR, run `ghstack unlink`, `git rebase` and then try again",
				number)
		}
		return UserErrorf(
			"pull request #%d is open but its %s branch is missing on %s; "+
				"fetch failed or someone deleted the branch",
			number, BranchOrig(username, ghnum), s.Cfg.RemoteName)
	}

	if pr.Closed {
		// Closed PR whose branches survive: the number is burned, but the
		// commit itself can be resubmitted as a fresh PR.
		seen[ghnum] = true
		d.Action = ActionNew
		return nil
	}

	if seen[ghnum] {
		return UserErrorf(
			"something very strange has happened: a commit for pull request #%d "+
				"occurs twice in your local commit stack. This is usually because of "+
				"a botched rebase. Please take a look at your git log and seek help "+
				"from your local Git expert",
			number)
	}
	seen[ghnum] = true

	remoteOrig, err := s.Git.ReadCommit(origTip)
	if err != nil {
		return err
	}
	remoteSourceID := trailers.Parse(remoteOrig.Message).SourceID

	localSourceID := d.Msg.SourceID
	switch {
	case localSourceID == "":
		ui.Warning("local commit has no ghstack-source-id; assuming that it is up-to-date with remote")
	case remoteSourceID == "":
		ui.Warning("remote commit has no ghstack-source-id; assuming that we are up-to-date with remote")
	case localSourceID != remoteSourceID && !s.Force:
		return UserErrorf(
			"cowardly refusing to push an update to GitHub, since it looks like "+
				"another source has updated GitHub since you last pushed. If you want "+
				"to push anyway, rerun this command with --force. Otherwise, diff your "+
				"changes against %s and reapply them on top of an up-to-date commit "+
				"from GitHub",
			localSourceID)
	}

	d.Number = number
	d.Username = username
	d.GhNum = ghnum
	d.RemoteSourceID = remoteSourceID
	d.CommentID = trailers.Parse(remoteOrig.Message).CommentID
	d.Title = pr.Title
	d.Body = pr.Body
	d.HeadRef = pr.HeadRef
	d.BaseRef = pr.BaseRef
	d.URL = github.PullURL(s.Cfg.GithubURL, owner, name, number)

	if localSourceID != "" && localSourceID == d.SourceID && !s.NoSkip {
		d.Action = ActionSkip
	} else {
		d.Action = ActionUpdate
	}
	return nil
}

// allocate assigns ghnums to the new diffs: sequential from the max number
// in use, skipping numbers held by open PRs, consumed markers from landed
// stacks, and anything already seen in this run.
func (s *Submitter) allocate(ctx context.Context, diffs []*Diff, seen map[int]bool) error {
	needs := false
	for _, d := range diffs {
		if d.Action == ActionNew {
			needs = true
		}
	}
	if !needs {
		return nil
	}

	inUse := map[int]bool{}
	for n := range seen {
		inUse[n] = true
	}

	// Branch namespace: anything under gh/<username>/<n>/* counts.
	refs, err := s.Git.ForEachRef("refs/remotes/" + s.Cfg.RemoteName + "/gh/" + s.Cfg.GithubUsername)
	if err != nil {
		return err
	}
	// Consumed markers left behind by land.
	consumed, err := s.Git.ForEachRef("refs/ghstack/consumed/" + s.Cfg.GithubUsername)
	if err == nil {
		refs = append(refs, consumed...)
	}
	for _, ref := range refs {
		parts := strings.Split(ref, "/")
		if len(parts) < 2 {
			continue
		}
		// gh/<user>/<n>/<kind> refs carry the number second to last;
		// consumed markers carry it last.
		for _, p := range []string{parts[len(parts)-1], parts[len(parts)-2]} {
			if n, err := strconv.Atoi(p); err == nil {
				inUse[n] = true
				break
			}
		}
	}

	// Numbers held by open PRs that have no local branches (e.g. another
	// checkout of the same repo).
	open, err := s.Forge.ListOpenPRs(ctx, s.repo.Owner, s.repo.Name, s.Cfg.GithubUsername)
	if err != nil {
		return err
	}
	for _, pr := range open {
		if _, n, ok := ParseHeadRef(pr.HeadRef); ok {
			inUse[n] = true
		}
	}

	max := 0
	for n := range inUse {
		if n > max {
			max = n
		}
	}

	next := max + 1
	for _, d := range diffs {
		if d.Action != ActionNew {
			continue
		}
		for inUse[next] {
			next++
		}
		d.GhNum = next
		d.Username = s.Cfg.GithubUsername
		inUse[next] = true
		next++
	}
	return nil
}
