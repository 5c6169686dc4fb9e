// Package prbody renders and parses the stack navigator block that ghstack
// maintains at the top of every pull request body.
package prbody

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Header is the first line of the navigator block, sans the trailing colon.
const Header = "Stack from [ghstack](https://github.com/ezyang/ghstack) (oldest at bottom)"

// Ya, sometimes we get carriage returns from the API. Crazy right?
var (
	stackRE  = regexp.MustCompile(`Stack.*:\r?\n(\* [^\r\n]+\r?\n)+`)
	refRE    = regexp.MustCompile(`#([0-9]+)`)
	bulletRE = regexp.MustCompile(`^[\s\t]*[*\-+][\s\t]+`)

	mentionRE = regexp.MustCompile(`(^|[^a-zA-Z0-9_])@([a-zA-Z\d](?:[a-zA-Z\d]|-[a-zA-Z\d]){0,38})`)
)

// Parse extracts the navigator block from a PR body. It returns the PR
// numbers listed in the block (top of stack first) and the body with the
// block removed. Bodies without a navigator (direct mode) return nil refs and
// the input unchanged apart from CR+LF normalization.
func Parse(body string) (refs []int, prose string) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	loc := stackRE.FindStringIndex(body)
	if loc == nil {
		return nil, body
	}
	for _, m := range refRE.FindAllStringSubmatch(body[loc[0]:loc[1]], -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		refs = append(refs, n)
	}
	prose = body[:loc[0]] + body[loc[1]:]
	prose = strings.TrimLeft(prose, "\n")
	return refs, prose
}

// RenderNavigator formats the navigator block for a stack of PR numbers,
// ordered top of stack first. The self PR gets the arrow marker.
func RenderNavigator(refs []int, self int) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString(":\n")
	for _, n := range refs {
		if n == self {
			fmt.Fprintf(&b, "* __->__ #%d\n", n)
		} else {
			fmt.Fprintf(&b, "* #%d\n", n)
		}
	}
	return b.String()
}

// Render produces a full PR body: navigator block, blank line, prose. Prose
// whitespace is preserved apart from CR+LF normalization; prose that begins
// with a Markdown bullet gets a ---- separator so it does not fuse with the
// navigator list.
func Render(refs []int, self int, prose string) string {
	prose = strings.ReplaceAll(prose, "\r\n", "\n")
	if bulletRE.MatchString(prose) {
		prose = "----\n\n" + prose
	}
	return RenderNavigator(refs, self) + "\n" + prose
}

// RenderNew produces the body for a PR that is being opened before the rest
// of the stack exists; the placeholder row is rewritten by the metadata pass
// once every PR number is known.
func RenderNew(prose string) string {
	prose = strings.ReplaceAll(prose, "\r\n", "\n")
	if bulletRE.MatchString(prose) {
		prose = "----\n\n" + prose
	}
	return Header + ":\n* (to be filled)\n\n" + prose
}

// ReplaceNavigator rewrites the navigator block inside an existing body,
// leaving the user's prose untouched. If the body has no navigator block the
// new one is prepended.
func ReplaceNavigator(body string, refs []int, self int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	nav := RenderNavigator(refs, self)
	if stackRE.MatchString(body) {
		return stackRE.ReplaceAllLiteralString(body, nav)
	}
	return nav + "\n" + body
}

// StripMentions neutralizes @user mentions so that pushing bodies around does
// not spam people with notifications.
func StripMentions(s string) string {
	return mentionRE.ReplaceAllString(s, "$1$2")
}
