package stack

import (
	"github.com/ezyang/ghstack/internal/config"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/trailers"
	"github.com/ezyang/ghstack/internal/ui"
)

// Unlinker rewrites local commits to drop their ghstack trailers, so the
// next submit treats them as brand-new diffs. It never writes to the remote.
type Unlinker struct {
	Git *git.Client
	Cfg *config.Config
}

// Run unlinks the given commits, or the entire current stack when revs is
// empty. base names the branch the stack is rooted on. Returns the new HEAD.
func (u *Unlinker) Run(revs []string, base string) (string, error) {
	upstream := u.Cfg.RemoteName + "/" + base

	dirty, err := u.Git.HasUncommittedChanges()
	if err != nil {
		return "", err
	}
	if dirty {
		return "", UserErrorf("you have uncommitted changes; commit or stash them before unlinking")
	}

	selected := map[string]bool{}
	for _, rev := range revs {
		hash, err := u.Git.RevParse(rev)
		if err != nil {
			return "", UserErrorf("%s doesn't seem to be a commit: %v", rev, err)
		}
		selected[hash] = true
	}

	mergeBase, err := u.Git.MergeBase(upstream, "HEAD")
	if err != nil {
		return "", err
	}
	stack, err := u.Git.RevList("--reverse", "--topo-order", "HEAD", "^"+mergeBase)
	if err != nil {
		return "", err
	}
	if len(stack) == 0 {
		return "", UserErrorf("there are no commits on your stack to unlink")
	}

	onStack := map[string]bool{}
	for _, c := range stack {
		onStack[c.Hash] = true
	}
	for hash := range selected {
		if !onStack[hash] {
			return "", UserErrorf(
				"unlink can only process commits on the current stack; %s is not",
				git.ShortHash(hash))
		}
	}

	// Rewrite the chain. Commits below the first rewritten one keep their
	// hashes.
	head := mergeBase
	rewriting := false
	for _, c := range stack {
		shouldUnlink := len(selected) == 0 || selected[c.Hash]
		if !rewriting && !shouldUnlink {
			head = c.Hash
			continue
		}
		rewriting = true

		msg := trailers.Parse(c.Message)
		if shouldUnlink {
			msg = msg.StripGhstack()
		}
		author := c.Author
		head, err = u.Git.CommitTree(c.Tree, []string{head}, msg.String(), &author)
		if err != nil {
			return "", err
		}
	}

	prev := stack[len(stack)-1].Hash
	if err := u.Git.ResetSoft(head); err != nil {
		return "", err
	}
	ui.Success("Diffs successfully unlinked!")
	ui.Printf("\nTo undo this operation, run:\n\n    git reset --soft %s\n\n", prev)
	return head, nil
}
