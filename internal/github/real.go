package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// RealEndpoint talks to a live GitHub (or GitHub Enterprise) instance.
// Reads go through GraphQL, writes through REST, the same split the API
// forces: GraphQL cannot open or modify pull requests.
type RealEndpoint struct {
	// GithubURL is the host, normally github.com.
	GithubURL string
	// OAuthToken authenticates every request.
	OAuthToken string
	// Client may be replaced for proxying; defaults to http.DefaultClient.
	Client *http.Client
}

func (e *RealEndpoint) httpClient() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}

func (e *RealEndpoint) graphqlURL() string {
	if e.GithubURL == "" || e.GithubURL == "github.com" {
		return "https://api.github.com/graphql"
	}
	return fmt.Sprintf("https://%s/api/graphql", e.GithubURL)
}

func (e *RealEndpoint) restURL(path string) string {
	if e.GithubURL == "" || e.GithubURL == "github.com" {
		return "https://api.github.com/" + path
	}
	return fmt.Sprintf("https://%s/api/v3/%s", e.GithubURL, path)
}

// transientError marks failures worth retrying (5xx, transport errors).
type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// do issues one HTTP request, decoding a JSON response into out (if non-nil).
func (e *RealEndpoint) do(ctx context.Context, method, rawURL string, payload, out any) error {
	op := func() error {
		var body io.Reader
		if payload != nil {
			buf, err := json.Marshal(payload)
			if err != nil {
				return backoff.Permanent(err)
			}
			body = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "token "+e.OAuthToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", "ghstack")
		req.Header.Set("X-Request-ID", uuid.NewString())

		resp, err := e.httpClient().Do(req)
		if err != nil {
			return transientError{err}
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return transientError{err}
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s %s: %w", method, rawURL, ErrNotFound))
		case resp.StatusCode >= 500:
			return transientError{fmt.Errorf("%s %s: %s: %s", method, rawURL, resp.Status, data)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%s %s: %s: %s", method, rawURL, resp.Status, data))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding %s response: %w", rawURL, err))
			}
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(8*time.Second),
	), 4), ctx)
	return backoff.Retry(op, bo)
}

// graphql issues a GraphQL query. GitHub returns 200 even for errors, so the
// errors array is checked explicitly.
func (e *RealEndpoint) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	payload := map[string]any{"query": query, "variables": variables}
	if err := e.do(ctx, http.MethodPost, e.graphqlURL(), payload, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		if resp.Errors[0].Type == "NOT_FOUND" {
			return ErrNotFound
		}
		return fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decoding graphql data: %w", err)
		}
	}
	return nil
}

// GetRepo implements Endpoint.
func (e *RealEndpoint) GetRepo(ctx context.Context, owner, name string) (*Repo, error) {
	var data struct {
		Repository *struct {
			ID               string `json:"id"`
			IsFork           bool   `json:"isFork"`
			DefaultBranchRef struct {
				Name string `json:"name"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}
	err := e.graphql(ctx, `
		query ($owner: String!, $name: String!) {
		  repository(owner: $owner, name: $name) {
		    id
		    isFork
		    defaultBranchRef { name }
		  }
		}`,
		map[string]any{"owner": owner, "name": name}, &data)
	if err != nil {
		return nil, err
	}
	if data.Repository == nil {
		return nil, fmt.Errorf("repository %s/%s: %w", owner, name, ErrNotFound)
	}
	return &Repo{
		ID:            data.Repository.ID,
		Owner:         owner,
		Name:          name,
		DefaultBranch: data.Repository.DefaultBranchRef.Name,
		IsFork:        data.Repository.IsFork,
	}, nil
}

type prNode struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	BaseRefName string `json:"baseRefName"`
	HeadRefName string `json:"headRefName"`
	Closed      bool   `json:"closed"`
	Merged      bool   `json:"merged"`
}

func (n prNode) toPR() *PR {
	return &PR{
		ID:      n.ID,
		Number:  n.Number,
		Title:   n.Title,
		Body:    n.Body,
		BaseRef: n.BaseRefName,
		HeadRef: n.HeadRefName,
		Closed:  n.Closed,
		Merged:  n.Merged,
	}
}

// GetPR implements Endpoint.
func (e *RealEndpoint) GetPR(ctx context.Context, owner, name string, number int) (*PR, error) {
	var data struct {
		Repository struct {
			PullRequest *prNode `json:"pullRequest"`
		} `json:"repository"`
	}
	err := e.graphql(ctx, `
		query ($owner: String!, $name: String!, $number: Int!) {
		  repository(owner: $owner, name: $name) {
		    pullRequest(number: $number) {
		      id number title body baseRefName headRefName closed merged
		    }
		  }
		}`,
		map[string]any{"owner": owner, "name": name, "number": number}, &data)
	if err != nil {
		return nil, err
	}
	if data.Repository.PullRequest == nil {
		return nil, fmt.Errorf("pull request #%d: %w", number, ErrNotFound)
	}
	return data.Repository.PullRequest.toPR(), nil
}

// ListOpenPRs implements Endpoint.
func (e *RealEndpoint) ListOpenPRs(ctx context.Context, owner, name, username string) ([]*PR, error) {
	var data struct {
		Repository struct {
			PullRequests struct {
				Nodes []prNode `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
	}
	err := e.graphql(ctx, `
		query ($owner: String!, $name: String!) {
		  repository(owner: $owner, name: $name) {
		    pullRequests(states: OPEN, first: 100, orderBy: {field: CREATED_AT, direction: DESC}) {
		      nodes { id number title body baseRefName headRefName closed merged }
		    }
		  }
		}`,
		map[string]any{"owner": owner, "name": name}, &data)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("gh/%s/", username)
	var out []*PR
	for _, n := range data.Repository.PullRequests.Nodes {
		if len(n.HeadRefName) > len(prefix) && n.HeadRefName[:len(prefix)] == prefix {
			out = append(out, n.toPR())
		}
	}
	return out, nil
}

// CreatePR implements Endpoint. The REST API is the only one that can open
// pull requests.
func (e *RealEndpoint) CreatePR(ctx context.Context, owner, name string, opts CreatePROpts) (*PR, error) {
	var resp struct {
		NodeID string `json:"node_id"`
		Number int    `json:"number"`
	}
	payload := map[string]any{
		"title":                 opts.Title,
		"head":                  opts.Head,
		"base":                  opts.Base,
		"body":                  opts.Body,
		"maintainer_can_modify": true,
		"draft":                 opts.Draft,
	}
	path := fmt.Sprintf("repos/%s/%s/pulls", owner, name)
	if err := e.do(ctx, http.MethodPost, e.restURL(path), payload, &resp); err != nil {
		return nil, err
	}
	return &PR{
		ID:      resp.NodeID,
		Number:  resp.Number,
		Title:   opts.Title,
		Body:    opts.Body,
		BaseRef: opts.Base,
		HeadRef: opts.Head,
	}, nil
}

// UpdatePR implements Endpoint.
func (e *RealEndpoint) UpdatePR(ctx context.Context, owner, name string, number int, opts UpdatePROpts) error {
	payload := map[string]any{}
	if opts.Title != nil {
		payload["title"] = *opts.Title
	}
	if opts.Body != nil {
		payload["body"] = *opts.Body
	}
	if opts.Base != nil {
		payload["base"] = *opts.Base
	}
	if len(payload) == 0 {
		return nil
	}
	path := fmt.Sprintf("repos/%s/%s/pulls/%d", owner, name, number)
	return e.do(ctx, http.MethodPatch, e.restURL(path), payload, nil)
}

// ClosePR implements Endpoint.
func (e *RealEndpoint) ClosePR(ctx context.Context, owner, name string, number int) error {
	path := fmt.Sprintf("repos/%s/%s/pulls/%d", owner, name, number)
	return e.do(ctx, http.MethodPatch, e.restURL(path), map[string]any{"state": "closed"}, nil)
}

// DeleteBranch implements Endpoint.
func (e *RealEndpoint) DeleteBranch(ctx context.Context, owner, name, branch string) error {
	// Ref paths keep their slashes: git/refs/heads/gh/u/1/head.
	path := fmt.Sprintf("repos/%s/%s/git/refs/heads/%s", owner, name, branch)
	return e.do(ctx, http.MethodDelete, e.restURL(path), nil, nil)
}

// CreateComment implements Endpoint.
func (e *RealEndpoint) CreateComment(ctx context.Context, owner, name string, number int, body string) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, name, number)
	if err := e.do(ctx, http.MethodPost, e.restURL(path), map[string]any{"body": body}, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateComment implements Endpoint.
func (e *RealEndpoint) UpdateComment(ctx context.Context, owner, name string, commentID int64, body string) error {
	path := fmt.Sprintf("repos/%s/%s/issues/comments/%d", owner, name, commentID)
	return e.do(ctx, http.MethodPatch, e.restURL(path), map[string]any{"body": body}, nil)
}
