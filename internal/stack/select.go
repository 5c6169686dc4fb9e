package stack

import (
	"fmt"
	"strings"

	"github.com/ezyang/ghstack/internal/git"
)

// DefaultThrottle caps the stack length so a runaway submit cannot trip the
// forge's rate limits.
const DefaultThrottle = 8

// SelectOpts controls which local commits form the stack to submit.
type SelectOpts struct {
	// Revs restricts the selection; defaults to HEAD.
	Revs []string
	// Stack enables rev-list reachability semantics. With Stack false
	// each rev selects exactly one commit.
	Stack bool
	// Throttle is the maximum stack length; 0 means DefaultThrottle.
	Throttle int
	// Force bypasses the throttle.
	Force bool
}

// Select computes the ordered list of commits, oldest first, between the
// upstream base and the given revs. It rejects empty stacks, overlong
// stacks, merge commits, and commits that came off a ghstack head or base
// branch.
func Select(g *git.Client, remote, base string, opts SelectOpts) ([]git.Commit, error) {
	upstream := remote + "/" + base
	revs := opts.Revs
	if len(revs) == 0 {
		revs = []string{"HEAD"}
	}

	var commits []git.Commit
	if opts.Stack {
		args := append([]string{"--topo-order", "--reverse"}, revs...)
		args = append(args, "^"+upstream)
		var err error
		commits, err = g.RevList(args...)
		if err != nil {
			return nil, err
		}
	} else {
		for _, rev := range revs {
			got, err := g.RevList("--topo-order", fmt.Sprintf("%s~..%s", rev, rev), "^"+upstream)
			if err != nil || len(got) == 0 {
				return nil, UserErrorf("%s doesn't seem to be a commit that can be submitted", rev)
			}
			commits = append(got, commits...)
		}
	}

	if len(commits) == 0 {
		return nil, UserErrorf("there appears to be no commits to process, based on the revs you passed me")
	}

	throttle := opts.Throttle
	if throttle == 0 {
		throttle = DefaultThrottle
	}
	if len(commits) > throttle && !opts.Force {
		return nil, UserErrorf(
			"cowardly refusing to handle a stack with more than %d PRs; "+
				"you are likely to get rate limited by GitHub if you try to create or "+
				"manipulate this many PRs. You can bypass this throttle using --force",
			throttle)
	}

	for _, c := range commits {
		if len(c.Parents) != 1 {
			return nil, UserErrorf(
				"commit %s has %d parents; `git rebase -i` your diffs into a "+
					"linear stack, then try again",
				git.ShortHash(c.Hash), len(c.Parents))
		}
		if strings.Contains(c.Message, poisonMarker) {
			return nil, UserErrorf(
				"commit %s is poisoned: it is from a head or base branch and cannot "+
					"validly be submitted. This usually happens when you check out the head "+
					"branch of a previously submitted pull request. Fetch the original "+
					"commits with `ghstack checkout $PR_URL` instead",
				git.ShortHash(c.Hash))
		}
	}

	return commits, nil
}
