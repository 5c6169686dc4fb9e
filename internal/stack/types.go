// Package stack implements the submission engine: it reconciles the local
// commit stack, the ghstack trailers recorded in each commit, and the remote
// branches and pull requests into a minimally disruptive new remote state.
// It also hosts the land and unlink subsystems, which read the same trailers.
package stack

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/trailers"
)

// Mode selects the PR layout strategy.
type Mode int

const (
	// ModeStack targets every PR at a synthetic gh/<user>/<n>/base branch
	// that ghstack owns and advances with base-update merge commits.
	ModeStack Mode = iota
	// ModeDirect targets the PR at the upstream trunk (bottom of stack)
	// or the previous diff's head branch. No synthetic base exists.
	ModeDirect
)

// Action is the classifier's verdict for one diff.
type Action int

const (
	// ActionNew allocates a ghnum and opens a PR.
	ActionNew Action = iota
	// ActionUpdate pushes new head/base commits to an existing PR.
	ActionUpdate
	// ActionSkip marks a diff whose commit is unchanged since it was last
	// submitted. Its branches and PR fields are still updated when a
	// predecessor changed or the stack around it was reordered.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "New"
	case ActionUpdate:
		return "Update"
	case ActionSkip:
		return "Skip"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Diff is one commit-to-PR mapping within a stack. Diffs are created by the
// classifier, mutated by the submitter during a single run, and discarded
// afterwards: persistent state lives only in trailers and remote branches.
type Diff struct {
	// Commit is the user's local commit.
	Commit git.Commit
	// Msg is the parsed commit message.
	Msg trailers.Message
	// SourceID is the recomputed identity of the local commit.
	SourceID string

	Action Action

	// Remote identity; populated for diffs that already have a PR, or by
	// the submitter once a PR is created.
	Number         int
	Username       string
	GhNum          int
	RemoteSourceID string
	CommentID      string
	Title          string
	Body           string
	Closed         bool
	HeadRef        string
	BaseRef        string

	// What describes what happened, for the summary report.
	What string
	// URL is the PR URL once known.
	URL string

	// NewOrig is the rewritten local commit that replaces Commit after a
	// successful submit.
	NewOrig string

	// Post-run branch tips, tracked so successor diffs can merge them in.
	baseTip string
	headTip string

	// ignored marks a never-submitted commit with no tree delta; GitHub
	// cannot open a PR for an empty diff.
	ignored bool
}

// poisonMarker brands synthetic head/base commits so they can never be
// resubmitted as user commits.
const poisonMarker = "[ghstack-poisoned]"

// BranchKind is "base", "head" or "orig".
type BranchKind = string

// Branch formats the remote branch name for one diff.
func Branch(username string, ghnum int, kind BranchKind) string {
	return fmt.Sprintf("gh/%s/%d/%s", username, ghnum, kind)
}

func BranchBase(username string, ghnum int) string { return Branch(username, ghnum, "base") }
func BranchHead(username string, ghnum int) string { return Branch(username, ghnum, "head") }
func BranchOrig(username string, ghnum int) string { return Branch(username, ghnum, "orig") }

var headRefRE = regexp.MustCompile(`^gh/([^/]+)/([0-9]+)/head$`)

// ParseHeadRef extracts (username, ghnum) from a gh/<user>/<n>/head branch
// name. ok is false for branches ghstack does not own; malformed gh/* names
// are tolerated by ignoring them.
func ParseHeadRef(ref string) (username string, ghnum int, ok bool) {
	m := headRefRE.FindStringSubmatch(ref)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

var pullURLRE = regexp.MustCompile(`^https://([^/]+)/([^/]+)/([^/]+)/pull/([0-9]+)$`)

// ParsePullURL splits a canonical PR URL into its parts.
func ParsePullURL(url string) (host, owner, name string, number int, err error) {
	m := pullURLRE.FindStringSubmatch(url)
	if m == nil {
		return "", "", "", 0, fmt.Errorf("%q does not look like a pull request URL", url)
	}
	n, err := strconv.Atoi(m[4])
	if err != nil {
		return "", "", "", 0, err
	}
	return m[1], m[2], m[3], n, nil
}

// UserError is a rejection caused by the state of the user's stack or the
// remote, as opposed to a bug or an infrastructure failure. The CLI maps it
// to exit code 1.
type UserError struct {
	msg string
}

func (e *UserError) Error() string { return e.msg }

// UserErrorf builds a UserError.
func UserErrorf(format string, args ...interface{}) error {
	return &UserError{msg: fmt.Sprintf(format, args...)}
}

// InvariantError reports a state that should be impossible: a bug in ghstack
// or corruption of its branches, never something the user did wrong. The CLI
// maps it to exit code 2.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return "invariant violation: " + e.msg }

// Invariantf builds an InvariantError.
func Invariantf(format string, args ...interface{}) error {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}
