// Package githubfake is an in-memory implementation of the forge capability
// for tests. It models just enough of GitHub: a repository, numbered pull
// requests, and issue comments.
package githubfake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ezyang/ghstack/internal/github"
)

// Endpoint is a fake forge. The zero value is not usable; create one with
// NewEndpoint.
type Endpoint struct {
	mu sync.Mutex

	repo       github.Repo
	nextNumber int
	prs        map[int]*github.PR

	nextCommentID int64
	comments      map[int64]string

	// DeletedBranches records branch deletions in order.
	DeletedBranches []string
}

// NewEndpoint creates a fake forge hosting a single repository. PR numbering
// starts at 500, matching the numbering GitHub fixtures conventionally use.
func NewEndpoint(owner, name, defaultBranch string) *Endpoint {
	return &Endpoint{
		repo: github.Repo{
			ID:            "repo-id-" + owner + "-" + name,
			Owner:         owner,
			Name:          name,
			DefaultBranch: defaultBranch,
		},
		nextNumber:    500,
		prs:           map[int]*github.PR{},
		nextCommentID: 1500,
		comments:      map[int64]string{},
	}
}

func (e *Endpoint) checkRepo(owner, name string) error {
	if owner != e.repo.Owner || name != e.repo.Name {
		return fmt.Errorf("repository %s/%s: %w", owner, name, github.ErrNotFound)
	}
	return nil
}

// GetRepo implements github.Endpoint.
func (e *Endpoint) GetRepo(ctx context.Context, owner, name string) (*github.Repo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return nil, err
	}
	r := e.repo
	return &r, nil
}

// GetPR implements github.Endpoint.
func (e *Endpoint) GetPR(ctx context.Context, owner, name string, number int) (*github.PR, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return nil, err
	}
	pr, ok := e.prs[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d: %w", number, github.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

// ListOpenPRs implements github.Endpoint.
func (e *Endpoint) ListOpenPRs(ctx context.Context, owner, name, username string) ([]*github.PR, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return nil, err
	}
	var out []*github.PR
	for _, pr := range e.prs {
		if pr.Closed {
			continue
		}
		if strings.HasPrefix(pr.HeadRef, "gh/"+username+"/") {
			cp := *pr
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreatePR implements github.Endpoint.
func (e *Endpoint) CreatePR(ctx context.Context, owner, name string, opts github.CreatePROpts) (*github.PR, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return nil, err
	}
	pr := &github.PR{
		ID:      fmt.Sprintf("pr-id-%d", e.nextNumber),
		Number:  e.nextNumber,
		Title:   opts.Title,
		Body:    opts.Body,
		BaseRef: opts.Base,
		HeadRef: opts.Head,
	}
	e.prs[pr.Number] = pr
	e.nextNumber++
	cp := *pr
	return &cp, nil
}

// UpdatePR implements github.Endpoint.
func (e *Endpoint) UpdatePR(ctx context.Context, owner, name string, number int, opts github.UpdatePROpts) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return err
	}
	pr, ok := e.prs[number]
	if !ok {
		return fmt.Errorf("pull request #%d: %w", number, github.ErrNotFound)
	}
	if opts.Title != nil {
		pr.Title = *opts.Title
	}
	if opts.Body != nil {
		pr.Body = *opts.Body
	}
	if opts.Base != nil {
		pr.BaseRef = *opts.Base
	}
	return nil
}

// ClosePR implements github.Endpoint.
func (e *Endpoint) ClosePR(ctx context.Context, owner, name string, number int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return err
	}
	pr, ok := e.prs[number]
	if !ok {
		return fmt.Errorf("pull request #%d: %w", number, github.ErrNotFound)
	}
	pr.Closed = true
	return nil
}

// DeleteBranch implements github.Endpoint.
func (e *Endpoint) DeleteBranch(ctx context.Context, owner, name, branch string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return err
	}
	e.DeletedBranches = append(e.DeletedBranches, branch)
	return nil
}

// CreateComment implements github.Endpoint.
func (e *Endpoint) CreateComment(ctx context.Context, owner, name string, number int, body string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return 0, err
	}
	id := e.nextCommentID
	e.nextCommentID++
	e.comments[id] = body
	return id, nil
}

// UpdateComment implements github.Endpoint.
func (e *Endpoint) UpdateComment(ctx context.Context, owner, name string, commentID int64, body string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRepo(owner, name); err != nil {
		return err
	}
	if _, ok := e.comments[commentID]; !ok {
		return fmt.Errorf("comment %d: %w", commentID, github.ErrNotFound)
	}
	e.comments[commentID] = body
	return nil
}

// Comment returns the current body of a comment. Test helper.
func (e *Endpoint) Comment(id int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.comments[id]
}

// MarkMerged flips a PR to merged+closed. Test helper for land scenarios.
func (e *Endpoint) MarkMerged(number int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pr, ok := e.prs[number]; ok {
		pr.Merged = true
		pr.Closed = true
	}
}
