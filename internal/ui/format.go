package ui

import (
	"fmt"
	"strings"
)

// SubmitResult is one line of the post-submit summary.
type SubmitResult struct {
	// What is a human-readable verb: Created, Updated, Skipped.
	What string
	URL  string
}

// RenderSubmitSummary formats the end-of-run report, top of stack first.
func RenderSubmitSummary(results []SubmitResult) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(HeaderStyle.Render("# Summary of changes"))
	b.WriteString("\n\n")
	if len(results) == 0 {
		b.WriteString("No pull requests updated; all commits in your stack were empty!\n")
		return b.String()
	}
	for _, r := range results {
		style := DimStyle
		switch r.What {
		case "Created":
			style = SuccessStyle
		case "Updated":
			style = InfoStyle
		}
		fmt.Fprintf(&b, " - %s %s\n", style.Render(r.What), URLStyle.Render(r.URL))
	}
	return b.String()
}

// RenderIgnoredDiffs formats the report of commits skipped for having no
// changes.
func RenderIgnoredDiffs(lines []string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(WarningStyle.Render("FYI: I ignored the following commits, because they had no changes:"))
	b.WriteString("\n\n")
	for _, l := range lines {
		fmt.Fprintf(&b, " - %s\n", l)
	}
	return b.String()
}
