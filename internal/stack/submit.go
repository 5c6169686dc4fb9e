package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/ezyang/ghstack/internal/config"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/prbody"
	"github.com/ezyang/ghstack/internal/ui"
)

// Submitter runs one submit: it synchronizes the selected local commits with
// their remote branches and pull requests.
//
// Write ordering within a run: for each diff, base before head, head before
// orig; diff #i completes before diff #(i+1) starts. PR titles, bodies and
// base refs are patched in a final metadata pass once every PR number is
// known. An interrupt therefore leaves a consistent prefix: a diff whose
// orig is on the forge was fully pushed.
type Submitter struct {
	Git   *git.Client
	Forge github.Endpoint
	Cfg   *config.Config

	// Msg describes this update in synthetic commit messages, e.g.
	// "Update" or a user-supplied -m string.
	Msg string
	// BaseOpt overrides the upstream default branch.
	BaseOpt string
	// Revs restricts which commits are submitted; defaults to HEAD.
	Revs []string
	// NoStack disables rev-list reachability semantics for Revs.
	NoStack bool
	// UpdateFields clobbers PR title and body with the commit message.
	UpdateFields bool
	// Force bypasses the throttle and the concurrent-edit fence.
	Force bool
	// NoSkip submits diffs even when the source id is unchanged.
	NoSkip bool
	// Draft opens new PRs as drafts.
	Draft bool
	// Short prints only the PR URLs, top of stack first.
	Short bool
	// DryRun classifies and reports, but writes nothing.
	DryRun bool
	// Throttle caps stack length; 0 means DefaultThrottle.
	Throttle int
	// DirectOpt forces direct mode on or off; nil infers it from the
	// .github/ghstack_direct marker file.
	DirectOpt *bool
	// RepoOwner and RepoName override the owner/name inferred from the
	// remote URL.
	RepoOwner string
	RepoName  string

	// Resolved during Run.
	repo *github.Repo
	base string
	mode Mode
}

// Run executes the submit and returns the processed diffs, bottom first.
func (s *Submitter) Run(ctx context.Context) ([]*Diff, error) {
	if s.Msg == "" {
		s.Msg = "Update"
	}
	if err := s.resolveRepo(ctx); err != nil {
		return nil, err
	}
	if err := s.fetch(); err != nil {
		return nil, err
	}

	commits, err := Select(s.Git, s.Cfg.RemoteName, s.base, SelectOpts{
		Revs:     s.Revs,
		Stack:    !s.NoStack,
		Throttle: s.Throttle,
		Force:    s.Force,
	})
	if err != nil {
		return nil, err
	}

	diffs, err := s.classify(ctx, commits)
	if err != nil {
		return nil, err
	}

	if s.DryRun {
		for _, d := range diffs {
			ui.Printf("%s %s\n", d.Action, d.Msg.Subject())
		}
		return diffs, nil
	}

	if err := s.pushDiffs(ctx, diffs); err != nil {
		return nil, err
	}
	if err := s.patchMetadata(ctx, diffs); err != nil {
		return nil, err
	}
	if err := s.restack(diffs); err != nil {
		return nil, err
	}

	s.report(diffs)
	return diffs, nil
}

func (s *Submitter) resolveRepo(ctx context.Context) error {
	owner, name := s.RepoOwner, s.RepoName
	if owner == "" || name == "" {
		var err error
		owner, name, err = githubRepoFromRemote(s.Git, s.Cfg.RemoteName, s.Cfg.GithubURL)
		if err != nil {
			return err
		}
	}
	repo, err := s.Forge.GetRepo(ctx, owner, name)
	if err != nil {
		return err
	}
	if repo.IsFork {
		return UserErrorf(
			"cowardly refusing to upload diffs to a repository that is a fork. "+
				"ghstack expects %q of your Git checkout to point at the upstream "+
				"repository; adjust your remotes or the remote_name setting in your "+
				".ghstackrc",
			s.Cfg.RemoteName)
	}
	s.repo = repo
	s.base = repo.DefaultBranch
	if s.BaseOpt != "" {
		s.base = s.BaseOpt
	}
	if s.DirectOpt != nil {
		if *s.DirectOpt {
			s.mode = ModeDirect
		}
	} else if s.Git.FileExistsAt("HEAD", ".github/ghstack_direct") {
		s.mode = ModeDirect
	}
	return nil
}

func (s *Submitter) fetch() error {
	if err := s.Git.Fetch(s.Cfg.RemoteName); err != nil {
		return err
	}
	// Consumed-ghnum markers live outside refs/heads, so the default
	// refspec misses them.
	_ = s.Git.FetchConsumed(s.Cfg.RemoteName)
	return nil
}

// pushDiffs walks the stack bottom to top, pushing branch updates and
// opening PRs. The rewritten orig chain is built along the way so that each
// orig records its new parent and freshly minted trailers.
func (s *Submitter) pushDiffs(ctx context.Context, diffs []*Diff) error {
	var pred *Diff
	var predHeadTip string // tip of the predecessor's head after this run

	// The parent of the bottom orig stays the original parent commit.
	parentCommit, err := s.Git.ReadCommit(diffs[0].Commit.Parents[0])
	if err != nil {
		return err
	}
	newParent := parentCommit.Hash

	for _, d := range diffs {
		if d.Action == ActionNew && d.Commit.Tree == parentCommit.Tree {
			// GitHub cannot open a PR for an empty diff; pretend the
			// commit is not on the stack, but keep it in the rebased
			// orig chain.
			d.ignored = true
			d.What = "Ignored"
			if err := s.rebaseOnly(d, newParent); err != nil {
				return err
			}
			parentCommit = d.Commit
			newParent = d.NewOrig
			continue
		}

		var err error
		switch d.Action {
		case ActionNew:
			err = s.pushNew(ctx, d, pred, predHeadTip, parentCommit)
		default:
			err = s.pushExisting(ctx, d, pred, predHeadTip, parentCommit)
		}
		if err != nil {
			return err
		}

		if err := s.pushOrig(d, newParent); err != nil {
			return err
		}

		predHeadTip = d.headTip
		pred = d
		parentCommit = d.Commit
		newParent = d.NewOrig
	}
	return nil
}

// rebaseOnly rewrites a commit onto the new orig chain without touching the
// remote: used for empty commits that cannot become PRs.
func (s *Submitter) rebaseOnly(d *Diff, newParent string) error {
	if newParent == d.Commit.Parents[0] {
		d.NewOrig = d.Commit.Hash
		return nil
	}
	author := d.Commit.Author
	newOrig, err := s.Git.CommitTree(d.Commit.Tree, []string{newParent}, d.Msg.String(), &author)
	if err != nil {
		return err
	}
	d.NewOrig = newOrig
	return nil
}

// remoteBaseFor returns the commit the diff should be based on: the
// predecessor's head tip, or for the bottom of the stack a commit on the
// upstream trunk.
func (s *Submitter) remoteBaseFor(d *Diff, pred *Diff, predHeadTip string) (string, error) {
	if pred != nil {
		return predHeadTip, nil
	}
	// Tie the base into trunk history at the merge base so tooling can
	// compute a merge-base with the main branch.
	return s.Git.MergeBase(d.Commit.Hash, s.Cfg.RemoteName+"/"+s.base)
}

// prBaseRefFor returns the branch name the PR should target.
func (s *Submitter) prBaseRefFor(d *Diff, pred *Diff) string {
	if s.mode == ModeStack {
		return BranchBase(d.Username, d.GhNum)
	}
	if pred != nil {
		return BranchHead(pred.Username, pred.GhNum)
	}
	return s.base
}

// pushNew creates branches and opens a PR for a diff that has never been
// submitted.
func (s *Submitter) pushNew(ctx context.Context, d *Diff, pred *Diff, predHeadTip string, parentCommit git.Commit) error {
	remoteBase, err := s.remoteBaseFor(d, pred, predHeadTip)
	if err != nil {
		return err
	}

	var headParents []string

	if s.mode == ModeStack {
		baseTip, err := s.Git.CommitTree(parentCommit.Tree, []string{remoteBase},
			fmt.Sprintf("%s (base update)\n\n%s", s.Msg, poisonMarker), nil)
		if err != nil {
			return err
		}
		d.baseTip = baseTip
		headParents = []string{baseTip}
		if pred != nil {
			headParents = append(headParents, predHeadTip)
		}
	} else {
		headParents = []string{remoteBase}
	}

	headTip, err := s.Git.CommitTree(d.Commit.Tree, headParents,
		fmt.Sprintf("%s\n\n%s", d.Commit.Subject(), poisonMarker), nil)
	if err != nil {
		return err
	}
	d.headTip = headTip

	// Base strictly before head.
	if s.mode == ModeStack {
		spec := git.PushSpec(d.baseTip, BranchBase(d.Username, d.GhNum))
		if err := s.Git.Push(s.Cfg.RemoteName, []string{spec}, false); err != nil {
			return err
		}
	}
	if err := s.Git.Push(s.Cfg.RemoteName, []string{git.PushSpec(headTip, BranchHead(d.Username, d.GhNum))}, false); err != nil {
		return err
	}

	title, body := s.defaultTitleAndBody(d)
	pr, err := s.Forge.CreatePR(ctx, s.repo.Owner, s.repo.Name, github.CreatePROpts{
		Base:  s.prBaseRefFor(d, pred),
		Head:  BranchHead(d.Username, d.GhNum),
		Title: title,
		Body:  body,
		Draft: s.Draft,
	})
	if err != nil {
		return err
	}
	d.Number = pr.Number
	d.Title = title
	d.Body = body
	d.HeadRef = pr.HeadRef
	d.BaseRef = pr.BaseRef
	d.URL = github.PullURL(s.Cfg.GithubURL, s.repo.Owner, s.repo.Name, pr.Number)
	d.What = "Created"

	if s.mode == ModeDirect {
		id, err := s.Forge.CreateComment(ctx, s.repo.Owner, s.repo.Name, pr.Number,
			prbody.RenderNavigator([]int{pr.Number}, pr.Number))
		if err != nil {
			return err
		}
		d.CommentID = fmt.Sprintf("%d", id)
	}
	return nil
}

// pushExisting appends base-update and head-update commits to an already
// submitted diff as needed. A diff classified Skip can still need branch
// updates when a predecessor changed or the stack was reordered; one that
// needs nothing pushes nothing.
func (s *Submitter) pushExisting(ctx context.Context, d *Diff, pred *Diff, predHeadTip string, parentCommit git.Commit) error {
	remoteBase, err := s.remoteBaseFor(d, pred, predHeadTip)
	if err != nil {
		return err
	}

	headTipRef := s.Cfg.RemoteName + "/" + BranchHead(d.Username, d.GhNum)
	headTip, err := s.Git.ReadCommit(headTipRef)
	if err != nil {
		return err
	}
	d.headTip = headTip.Hash

	var baseSpecs, headSpecs []string
	headParents := []string{headTip.Hash}
	baseAdvanced := false

	if s.mode == ModeStack {
		baseTipRef := s.Cfg.RemoteName + "/" + BranchBase(d.Username, d.GhNum)
		baseTip, err := s.Git.ReadCommit(baseTipRef)
		if err != nil {
			return err
		}
		d.baseTip = baseTip.Hash

		if baseTip.Tree != parentCommit.Tree {
			// The stack was rebased or a predecessor changed: advance
			// base with a merge carrying the new predecessor tree.
			baseParents := []string{baseTip.Hash}
			if !s.Git.IsAncestor(remoteBase, baseTip.Hash) {
				baseParents = append(baseParents, remoteBase)
			}
			newBase, err := s.Git.CommitTree(parentCommit.Tree, baseParents,
				fmt.Sprintf("%s (base update)\n\n%s", s.Msg, poisonMarker), nil)
			if err != nil {
				return err
			}
			d.baseTip = newBase
			baseAdvanced = true
			headParents = append(headParents, newBase)
			baseSpecs = append(baseSpecs, git.PushSpec(newBase, BranchBase(d.Username, d.GhNum)))
		}
	} else {
		if !s.Git.IsAncestor(remoteBase, headTip.Hash) {
			headParents = append(headParents, remoteBase)
			baseAdvanced = true
		}
	}

	if baseAdvanced || headTip.Tree != d.Commit.Tree {
		newHead, err := s.Git.CommitTree(d.Commit.Tree, headParents,
			fmt.Sprintf("%s on %q\n\n%s", s.Msg, d.Title, poisonMarker), nil)
		if err != nil {
			return err
		}
		d.headTip = newHead
		headSpecs = append(headSpecs, git.PushSpec(newHead, BranchHead(d.Username, d.GhNum)))
	}

	// Base strictly before head: pushing head first would make GitHub
	// attribute the base's commits to the user.
	if len(baseSpecs) > 0 {
		if err := s.Git.Push(s.Cfg.RemoteName, baseSpecs, false); err != nil {
			return err
		}
	}
	if len(headSpecs) > 0 {
		if err := s.Git.Push(s.Cfg.RemoteName, headSpecs, false); err != nil {
			return err
		}
	}

	switch {
	case len(baseSpecs)+len(headSpecs) > 0:
		d.What = "Updated"
	default:
		d.What = "Skipped"
	}
	return nil
}

// pushOrig rewrites the local commit with fresh trailers onto the new orig
// chain and force-pushes it. orig is the only branch force pushes are ever
// allowed on. Nothing is pushed if the commit is unchanged.
func (s *Submitter) pushOrig(d *Diff, newParent string) error {
	msg := d.Msg
	if msg.PullRequestURL == "" {
		msg.Prose = prbody.StripMentions(msg.Prose)
	}
	msg.SourceID = d.SourceID
	msg.PullRequestURL = d.URL
	msg.Direct = s.mode == ModeDirect
	if s.mode == ModeDirect {
		msg.CommentID = d.CommentID
	} else {
		msg.CommentID = ""
	}

	if newParent == d.Commit.Parents[0] && msg.String() == strings.TrimRight(d.Commit.Message, "\n") {
		d.NewOrig = d.Commit.Hash
	} else {
		author := d.Commit.Author
		newOrig, err := s.Git.CommitTree(d.Commit.Tree, []string{newParent}, msg.String(), &author)
		if err != nil {
			return err
		}
		d.NewOrig = newOrig
	}

	origBranch := BranchOrig(d.Username, d.GhNum)
	if s.Git.TryRevParse(s.Cfg.RemoteName+"/"+origBranch) == d.NewOrig {
		return nil
	}
	return s.Git.Push(s.Cfg.RemoteName, []string{git.PushSpec(d.NewOrig, origBranch)}, true)
}

// patchMetadata rewrites PR titles, bodies (navigator block plus prose), and
// in direct mode base refs and stack comments, once all PR numbers exist.
// PRs whose title, body and base ref already match are not patched, so an
// unchanged resubmit in stack mode performs no forge writes. In direct mode
// the stack comment is rewritten on every run, whether or not it changed.
func (s *Submitter) patchMetadata(ctx context.Context, diffs []*Diff) error {
	refs := make([]int, 0, len(diffs))
	for i := len(diffs) - 1; i >= 0; i-- {
		if !diffs[i].ignored {
			refs = append(refs, diffs[i].Number)
		}
	}

	var pred *Diff
	for _, d := range diffs {
		if d.ignored {
			continue
		}
		title, body := s.desiredFields(d, refs)

		opts := github.UpdatePROpts{}
		if title != d.Title {
			opts.Title = &title
		}
		// Compare against the CRLF-normalized remote body so a forge that
		// stores carriage returns does not force a rewrite on every run.
		if body != strings.ReplaceAll(d.Body, "\r\n", "\n") {
			opts.Body = &body
		}
		if s.mode == ModeDirect {
			if baseRef := s.prBaseRefFor(d, pred); baseRef != d.BaseRef {
				opts.Base = &baseRef
			}
		}
		if opts.Title != nil || opts.Body != nil || opts.Base != nil {
			if err := s.Forge.UpdatePR(ctx, s.repo.Owner, s.repo.Name, d.Number, opts); err != nil {
				return err
			}
			d.Title = title
			d.Body = body
		}

		if s.mode == ModeDirect && d.CommentID != "" {
			var id int64
			if _, err := fmt.Sscanf(d.CommentID, "%d", &id); err == nil {
				nav := prbody.RenderNavigator(refs, d.Number)
				if err := s.Forge.UpdateComment(ctx, s.repo.Owner, s.repo.Name, id, nav); err != nil {
					return err
				}
			}
		}
		pred = d
	}
	return nil
}

// desiredFields computes the title and body a PR should carry. By default
// the remote prose is preserved and only the navigator block is rewritten;
// with UpdateFields both are clobbered from the local commit message.
func (s *Submitter) desiredFields(d *Diff, refs []int) (title, body string) {
	title = d.Title
	if s.UpdateFields {
		title = d.Msg.Subject()
	}
	if s.mode == ModeDirect {
		if s.UpdateFields {
			return title, prbody.StripMentions(d.Msg.Body())
		}
		return title, strings.ReplaceAll(d.Body, "\r\n", "\n")
	}
	if s.UpdateFields {
		return title, prbody.Render(refs, d.Number, prbody.StripMentions(d.Msg.Body()))
	}
	return title, prbody.ReplaceNavigator(d.Body, refs, d.Number)
}

// defaultTitleAndBody computes the fields for a newly opened PR.
func (s *Submitter) defaultTitleAndBody(d *Diff) (string, string) {
	title := d.Msg.Subject()
	prose := prbody.StripMentions(d.Msg.Body())
	if s.mode == ModeDirect {
		return title, prose
	}
	// The navigator gets a placeholder row for now; the metadata pass
	// fills in the rest of the stack.
	return title, prbody.RenderNew(prose)
}

// restack moves the user's branch onto the rewritten orig chain.
func (s *Submitter) restack(diffs []*Diff) error {
	head, err := s.Git.RevParse("HEAD")
	if err != nil {
		return err
	}
	for _, d := range diffs {
		if d.Commit.Hash == head {
			if d.NewOrig != "" && d.NewOrig != head {
				return s.Git.ResetSoft(d.NewOrig)
			}
			return nil
		}
	}
	last := diffs[len(diffs)-1]
	if last.NewOrig != "" && last.NewOrig != last.Commit.Hash {
		ui.Warningf("submitted commits were rewritten but HEAD is elsewhere; "+
			"rebase your work onto %s", git.ShortHash(last.NewOrig))
	}
	return nil
}

func (s *Submitter) report(diffs []*Diff) {
	if s.Short {
		// First URL printed is the top of the stack.
		for i := len(diffs) - 1; i >= 0; i-- {
			if !diffs[i].ignored {
				ui.Print(diffs[i].URL)
			}
		}
		return
	}
	var results []ui.SubmitResult
	var ignored []string
	for i := len(diffs) - 1; i >= 0; i-- {
		d := diffs[i]
		if d.ignored {
			ignored = append(ignored, fmt.Sprintf("%s %s", git.ShortHash(d.Commit.Hash), d.Msg.Subject()))
			continue
		}
		results = append(results, ui.SubmitResult{What: d.What, URL: d.URL})
	}
	ui.Print(ui.RenderSubmitSummary(results))
	if len(ignored) > 0 {
		ui.Print(ui.RenderIgnoredDiffs(ignored))
	}
}

// RepoFromRemote infers the owner and name of the repository the configured
// remote points at.
func RepoFromRemote(g *git.Client, cfg *config.Config) (owner, name string, err error) {
	return githubRepoFromRemote(g, cfg.RemoteName, cfg.GithubURL)
}

// githubRepoFromRemote infers owner/name from the remote's push URL.
func githubRepoFromRemote(g *git.Client, remote, githubURL string) (owner, name string, err error) {
	url, err := g.RemotePushURL(remote)
	if err != nil {
		return "", "", err
	}
	return parseRemoteURL(url, githubURL)
}

func parseRemoteURL(url, githubURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(url, ".git")
	for _, prefix := range []string{
		"git@" + githubURL + ":",
		"ssh://git@" + githubURL + "/",
		"https://" + githubURL + "/",
	} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			owner, name, ok := strings.Cut(rest, "/")
			if !ok || owner == "" || name == "" {
				break
			}
			return owner, name, nil
		}
	}
	return "", "", fmt.Errorf("remote %q does not look like a %s repository", url, githubURL)
}
