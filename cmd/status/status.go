package status

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/internal/common"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/stack"
	"github.com/ezyang/ghstack/internal/trailers"
	"github.com/ezyang/ghstack/internal/ui"
)

// Command reports the PR state of every commit on the current stack.
type Command struct {
	Base string
}

// Register registers the command with cobra.
func (c *Command) Register(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pull request backing each commit on the current stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&c.Base, "base", "", "Base branch the stack is rooted on (default: the repository's default branch)")
	parent.AddCommand(cmd)
}

// Run executes the command.
func (c *Command) Run(ctx context.Context) error {
	gitClient, cfg, forge, err := common.InitClients()
	if err != nil {
		return err
	}

	owner, name, err := stack.RepoFromRemote(gitClient, cfg)
	if err != nil {
		return err
	}
	repo, err := forge.GetRepo(ctx, owner, name)
	if err != nil {
		return err
	}
	base := c.Base
	if base == "" {
		base = repo.DefaultBranch
	}

	mergeBase, err := gitClient.MergeBase(cfg.RemoteName+"/"+base, "HEAD")
	if err != nil {
		return err
	}
	commits, err := gitClient.RevList("--reverse", "--topo-order", "HEAD", "^"+mergeBase)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		ui.Info("Your stack is empty.")
		return nil
	}

	ui.Header(fmt.Sprintf("Stack of %d commit(s) on %s/%s", len(commits), owner, name))
	// Top of stack first, like the PR navigator.
	for i := len(commits) - 1; i >= 0; i-- {
		commit := commits[i]
		msg := trailers.Parse(commit.Message)
		line := fmt.Sprintf("%s %s", ui.Dim(git.ShortHash(commit.Hash)), msg.Subject())
		if msg.PullRequestURL == "" {
			ui.Printf("%s %s\n", line, ui.Dim("(not submitted)"))
			continue
		}
		_, _, _, number, err := stack.ParsePullURL(msg.PullRequestURL)
		if err != nil {
			ui.Printf("%s %s\n", line, ui.Dim("(bad trailer)"))
			continue
		}
		pr, err := forge.GetPR(ctx, owner, name, number)
		if err != nil {
			ui.Printf("%s %s\n", line, ui.Dim("(PR not found)"))
			continue
		}
		state := "open"
		switch {
		case pr.Merged:
			state = "merged"
		case pr.Closed:
			state = "closed"
		}
		ui.Printf("%s %s %s %s\n", line, ui.Bold(fmt.Sprintf("#%d", number)), state, ui.URL(msg.PullRequestURL))
	}
	return nil
}
