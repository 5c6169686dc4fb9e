// Package github talks to the GitHub API. The Endpoint interface is the
// forge capability the engine consumes; RealEndpoint implements it over
// GraphQL and REST.
package github

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested object does not exist on the
// forge.
var ErrNotFound = errors.New("not found")

// Repo is the repository metadata the engine needs.
type Repo struct {
	// ID is the GraphQL node id.
	ID            string
	Owner         string
	Name          string
	DefaultBranch string
	IsFork        bool
}

// PR is a pull request as seen by the engine.
type PR struct {
	ID      string
	Number  int
	Title   string
	Body    string
	BaseRef string
	HeadRef string
	Closed  bool
	Merged  bool
}

// CreatePROpts are the fields for opening a pull request.
type CreatePROpts struct {
	Base  string
	Head  string
	Title string
	Body  string
	Draft bool
}

// UpdatePROpts are the patchable fields of a pull request. Nil fields are
// left unchanged.
type UpdatePROpts struct {
	Title *string
	Body  *string
	Base  *string
}

// Endpoint is the forge capability. Implementations: RealEndpoint (HTTP) and
// githubfake.Endpoint (in-memory, tests).
type Endpoint interface {
	GetRepo(ctx context.Context, owner, name string) (*Repo, error)
	GetPR(ctx context.Context, owner, name string, number int) (*PR, error)
	// ListOpenPRs returns the open pull requests whose head ref matches
	// the gh/<username>/ namespace.
	ListOpenPRs(ctx context.Context, owner, name, username string) ([]*PR, error)
	CreatePR(ctx context.Context, owner, name string, opts CreatePROpts) (*PR, error)
	UpdatePR(ctx context.Context, owner, name string, number int, opts UpdatePROpts) error
	ClosePR(ctx context.Context, owner, name string, number int) error
	DeleteBranch(ctx context.Context, owner, name, branch string) error
	// CreateComment posts an issue comment on a PR and returns its id.
	// Used by direct mode for the stack navigator comment.
	CreateComment(ctx context.Context, owner, name string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, name string, commentID int64, body string) error
}

// PullURL formats the canonical PR URL for trailers and display.
func PullURL(githubURL, owner, name string, number int) string {
	return fmt.Sprintf("https://%s/%s/%s/pull/%d", githubURL, owner, name, number)
}
