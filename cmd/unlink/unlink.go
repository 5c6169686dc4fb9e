package unlink

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/internal/common"
	"github.com/ezyang/ghstack/internal/stack"
)

// Command strips ghstack trailers from local commits.
type Command struct {
	Base string

	revs []string
}

// Register registers the command with cobra.
func (c *Command) Register(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "unlink [COMMITS...]",
		Short: "Disassociate local commits from their pull requests",
		Long: `Rewrite the given commits (or the whole current stack) to remove their
ghstack trailers. The next submit treats them as brand-new diffs and opens
fresh pull requests. Nothing is written to GitHub.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.revs = args
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

	base := c.Base
	if base == "" {
		owner, name, err := stack.RepoFromRemote(gitClient, cfg)
		if err != nil {
			return err
		}
		repo, err := forge.GetRepo(ctx, owner, name)
		if err != nil {
			return err
		}
		base = repo.DefaultBranch
	}

	u := &stack.Unlinker{Git: gitClient, Cfg: cfg}
	_, err = u.Run(c.revs, base)
	return err
}
