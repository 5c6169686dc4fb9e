// Package trailers encodes and decodes the trailer block at the end of a
// commit message. ghstack stores all of its persistent per-commit state
// (source id, PR URL, comment id) in these trailers.
package trailers

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"
)

// Trailer keys owned by ghstack. Everything else found in a trailer block
// (Signed-off-by, Differential Revision, ...) is preserved verbatim.
const (
	KeySourceID          = "ghstack-source-id"
	KeyCommentID         = "ghstack-comment-id"
	KeyPullRequest       = "Pull Request resolved"
	KeyPullRequestDirect = "Pull-Request"
)

// Trailer is a single Key: Value line in the trailer block.
type Trailer struct {
	Key   string
	Value string
}

// Message is a commit message split into prose and trailers. The ghstack
// trailers are pulled out into dedicated fields; Others holds the remaining
// trailers in their original order.
type Message struct {
	// Prose is the subject plus body, LF line endings, no trailing newline.
	Prose string

	// Others are non-ghstack trailers, preserved in original order.
	Others []Trailer

	// SourceID is the value of ghstack-source-id, or "".
	SourceID string

	// CommentID is the value of ghstack-comment-id, or "".
	CommentID string

	// PullRequestURL is the value of the PR trailer, or "".
	PullRequestURL string

	// Direct records which PR trailer key was present (or should be
	// emitted): Pull-Request when true, Pull Request resolved otherwise.
	Direct bool
}

// trailerKeyRE accepts conventional keys (Signed-off-by) as well as the
// spaced "Pull Request resolved" key that ghstack has used historically.
var trailerKeyRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _-]*[A-Za-z0-9]$`)

// Parse splits a commit message into prose and trailers. The trailer block is
// the maximal suffix of Key: Value lines separated from the prose by a blank
// line; continuation lines (leading whitespace) belong to the preceding
// trailer. CR+LF line endings are normalized to LF.
func Parse(msg string) Message {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.TrimRight(msg, "\n")

	var m Message
	lines := strings.Split(msg, "\n")

	start := trailerBlockStart(lines)
	if start < 0 {
		m.Prose = msg
		return m
	}

	m.Prose = strings.TrimRight(strings.Join(lines[:start], "\n"), "\n")
	for _, t := range parseBlock(lines[start:]) {
		switch t.Key {
		case KeySourceID:
			m.SourceID = t.Value
		case KeyCommentID:
			m.CommentID = t.Value
		case KeyPullRequest:
			m.PullRequestURL = t.Value
		case KeyPullRequestDirect:
			m.PullRequestURL = t.Value
			m.Direct = true
		default:
			m.Others = append(m.Others, t)
		}
	}
	return m
}

// trailerBlockStart returns the index of the first line of the trailer block,
// or -1 if the message has no trailer block. The block is everything after
// the last blank line, so a message without a blank line has no trailer
// block; every line in it must be a trailer or a continuation line.
func trailerBlockStart(lines []string) int {
	// Find the last blank line; the candidate block is everything after it.
	start := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			start = i + 1
			break
		}
	}
	if start >= len(lines) {
		return -1
	}
	// A message that is nothing but trailers is prose, not trailers: the
	// subject line always stays with the prose.
	if start == 0 {
		return -1
	}
	for i := start; i < len(lines); i++ {
		if isContinuation(lines[i]) {
			if i == start {
				return -1
			}
			continue
		}
		if !isTrailerLine(lines[i]) {
			return -1
		}
	}
	return start
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t') && strings.TrimSpace(line) != ""
}

func isTrailerLine(line string) bool {
	key, _, ok := strings.Cut(line, ": ")
	if !ok {
		// Tolerate "Key:value" with no space.
		key, _, ok = strings.Cut(line, ":")
		if !ok {
			return false
		}
	}
	return trailerKeyRE.MatchString(key)
}

func parseBlock(lines []string) []Trailer {
	var out []Trailer
	for _, line := range lines {
		if isContinuation(line) && len(out) > 0 {
			out[len(out)-1].Value += "\n" + line
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		out = append(out, Trailer{Key: key, Value: strings.TrimSpace(value)})
	}
	return out
}

// String emits the message with a deterministic trailer order: preserved
// trailers first in their original order, then the ghstack trailers. Output
// uses LF line endings and ends without a trailing newline.
func (m Message) String() string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(m.Prose, "\n"))

	trs := make([]Trailer, 0, len(m.Others)+3)
	trs = append(trs, m.Others...)
	if m.SourceID != "" {
		trs = append(trs, Trailer{KeySourceID, m.SourceID})
	}
	if m.CommentID != "" {
		trs = append(trs, Trailer{KeyCommentID, m.CommentID})
	}
	if m.PullRequestURL != "" {
		key := KeyPullRequest
		if m.Direct {
			key = KeyPullRequestDirect
		}
		trs = append(trs, Trailer{key, m.PullRequestURL})
	}

	if len(trs) > 0 {
		b.WriteString("\n\n")
		for i, t := range trs {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(t.Key)
			b.WriteString(": ")
			b.WriteString(t.Value)
		}
	}
	return b.String()
}

// Subject returns the first line of the prose.
func (m Message) Subject() string {
	subject, _, _ := strings.Cut(m.Prose, "\n")
	return strings.TrimSpace(subject)
}

// Body returns the prose with the subject line removed.
func (m Message) Body() string {
	_, body, _ := strings.Cut(m.Prose, "\n")
	return strings.TrimLeft(body, "\n")
}

// StripGhstack removes the ghstack trailers, leaving prose and preserved
// trailers intact. Used by unlink to detach a commit from its PR.
func (m Message) StripGhstack() Message {
	m.SourceID = ""
	m.CommentID = ""
	m.PullRequestURL = ""
	m.Direct = false
	return m
}

// SourceID computes the stable identity of a diff: a hash over the tree hash,
// the prose, and the non-ghstack trailers. The ghstack trailers themselves
// are excluded so that rewriting them does not change the identity.
func SourceID(tree string, m Message) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00", tree, m.Prose)
	for _, t := range m.Others {
		fmt.Fprintf(h, "%s: %s\n", t.Key, t.Value)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
