package submit

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/internal/common"
	"github.com/ezyang/ghstack/internal/stack"
)

// Command submits the local commit stack to GitHub, one PR per commit.
type Command struct {
	Message      string
	UpdateFields bool
	Short        bool
	Force        bool
	NoSkip       bool
	Draft        bool
	Base         string
	NoStack      bool
	DryRun       bool
	Direct       bool

	revs      []string
	directSet bool
}

// Register registers the command with cobra.
func (c *Command) Register(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "submit [REVS...]",
		Short: "Push the current stack to GitHub, creating or updating one PR per commit",
		Long: `Submit every commit between the upstream base branch and HEAD as its own
pull request. Commits that already have a PR (recorded in their trailers) are
updated in place; review history is preserved because head and base branches
only ever move forward.

Example:
  ghstack submit                 # submit everything reachable from HEAD
  ghstack submit HEAD~2..        # submit a suffix of the stack
  ghstack submit --no-stack HEAD # submit just the HEAD commit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.revs = args
			c.directSet = cmd.Flags().Changed("direct")
			return c.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&c.Message, "message", "m", "", "Message describing this update to the stack")
	cmd.Flags().BoolVar(&c.UpdateFields, "update-fields", false, "Overwrite PR title and body with the local commit message")
	cmd.Flags().BoolVar(&c.Short, "short", false, "Print only the PR URLs, top of stack first")
	cmd.Flags().BoolVarP(&c.Force, "force", "f", false, "Bypass the stack-length throttle and the concurrent-edit check")
	cmd.Flags().BoolVar(&c.NoSkip, "no-skip", false, "Push updates even for unchanged commits")
	cmd.Flags().BoolVar(&c.Draft, "draft", false, "Open newly created PRs as drafts")
	cmd.Flags().StringVar(&c.Base, "base", "", "Base branch to stack on (default: the repository's default branch)")
	cmd.Flags().BoolVar(&c.NoStack, "no-stack", false, "Submit only the named commits, not everything reachable from them")
	cmd.Flags().BoolVar(&c.DryRun, "dry-run", false, "Classify and report without writing anything")
	cmd.Flags().BoolVar(&c.Direct, "direct", false, "Target PRs directly at the upstream branch instead of synthetic base branches")

	parent.AddCommand(cmd)
}

// Run executes the command.
func (c *Command) Run(ctx context.Context) error {
	gitClient, cfg, forge, err := common.InitClients()
	if err != nil {
		return err
	}

	s := &stack.Submitter{
		Git:          gitClient,
		Forge:        forge,
		Cfg:          cfg,
		Msg:          c.Message,
		BaseOpt:      c.Base,
		Revs:         c.revs,
		NoStack:      c.NoStack,
		UpdateFields: c.UpdateFields,
		Force:        c.Force,
		NoSkip:       c.NoSkip,
		Draft:        c.Draft,
		Short:        c.Short,
		DryRun:       c.DryRun,
	}
	if c.directSet {
		direct := c.Direct
		s.DirectOpt = &direct
	}

	_, err = s.Run(ctx)
	return err
}
