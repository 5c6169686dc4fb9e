package land

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/internal/common"
	"github.com/ezyang/ghstack/internal/stack"
)

// Command lands a stack prefix onto the upstream default branch.
type Command struct {
	Force bool

	pullRequest string
}

// Register registers the command with cobra.
func (c *Command) Register(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "land PR_URL",
		Short: "Fast-forward the default branch with the stack up to the given PR",
		Long: `Land the stack prefix ending at PR_URL: every PR below it is landed too,
and everything above it stays open. The landed commits keep their original
authorship and message; the PRs are closed and their branches deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.pullRequest = args[0]
			return c.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVarP(&c.Force, "force", "f", false, "Land even if the local stack does not match GitHub")

	parent.AddCommand(cmd)
}

// Run executes the command.
func (c *Command) Run(ctx context.Context) error {
	gitClient, cfg, forge, err := common.InitClients()
	if err != nil {
		return err
	}
	l := &stack.Lander{
		Git:   gitClient,
		Forge: forge,
		Cfg:   cfg,
		Force: c.Force,
	}
	return l.Run(ctx, c.pullRequest)
}
