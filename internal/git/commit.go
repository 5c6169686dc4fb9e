package git

import (
	"fmt"
	"regexp"
	"strings"
)

// Author identifies the author of a commit.
type Author struct {
	Name  string
	Email string
}

// Commit is the information extracted from one `git rev-list --header`
// record.
type Commit struct {
	Hash     string
	Tree     string
	Parents  []string
	Author   Author
	Message  string
	Boundary bool
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	subject, _, _ := strings.Cut(c.Message, "\n")
	return strings.TrimSpace(subject)
}

var (
	rawCommitRE = regexp.MustCompile(`(?m)^(?P<boundary>-?)(?P<commit>[a-f0-9]{40})$`)
	rawTreeRE   = regexp.MustCompile(`(?m)^tree (?P<tree>[a-f0-9]{40})$`)
	rawParentRE = regexp.MustCompile(`(?m)^parent (?P<commit>[a-f0-9]{40})$`)
	rawAuthorRE = regexp.MustCompile(`(?m)^author (?P<name>[^<]+?) <(?P<email>[^>]*)>`)
	rawMsgRE    = regexp.MustCompile(`(?m)^    (?P<line>.*)$`)
)

// parseHeader decodes a single NUL-delimited record of rev-list --header
// output.
func parseHeader(raw string) (Commit, error) {
	var c Commit
	m := rawCommitRE.FindStringSubmatch(raw)
	if m == nil {
		return c, fmt.Errorf("malformed rev-list header: %.80q", raw)
	}
	c.Boundary = m[1] == "-"
	c.Hash = m[2]

	if m := rawTreeRE.FindStringSubmatch(raw); m != nil {
		c.Tree = m[1]
	}
	for _, m := range rawParentRE.FindAllStringSubmatch(raw, -1) {
		c.Parents = append(c.Parents, m[1])
	}
	if m := rawAuthorRE.FindStringSubmatch(raw); m != nil {
		c.Author = Author{Name: strings.TrimSpace(m[1]), Email: m[2]}
	}
	var lines []string
	for _, m := range rawMsgRE.FindAllStringSubmatch(raw, -1) {
		lines = append(lines, m[1])
	}
	c.Message = strings.Join(lines, "\n")
	return c, nil
}

// splitHeaders decodes the full NUL-delimited rev-list --header output.
func splitHeaders(out string) ([]Commit, error) {
	var commits []Commit
	for _, raw := range strings.Split(out, "\x00") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := parseHeader(raw)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// RevList runs rev-list --header with the given revision arguments and
// parses the result. Order is whatever rev-list produced.
func (c *Client) RevList(args ...string) ([]Commit, error) {
	full := append([]string{"rev-list", "--header"}, args...)
	out, err := c.run(full...)
	if err != nil {
		return nil, err
	}
	return splitHeaders(out)
}

// ReadCommit reads a single commit.
func (c *Client) ReadCommit(ref string) (Commit, error) {
	commits, err := c.RevList("--max-count=1", ref)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) != 1 {
		return Commit{}, fmt.Errorf("expected one commit for %s, got %d", ref, len(commits))
	}
	return commits[0], nil
}

// ShortHash abbreviates a commit hash for display.
func ShortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
