package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/cmd/checkout"
	"github.com/ezyang/ghstack/cmd/land"
	"github.com/ezyang/ghstack/cmd/status"
	"github.com/ezyang/ghstack/cmd/submit"
	"github.com/ezyang/ghstack/cmd/unlink"
	"github.com/ezyang/ghstack/internal/stack"
	"github.com/ezyang/ghstack/internal/ui"
)

// rootCmd represents the base command. Bare `ghstack` submits, matching the
// historical CLI.
var rootCmd = &cobra.Command{
	Use:   "ghstack",
	Short: "Submit stacks of diffs to GitHub as separate pull requests",
	Long: `ghstack submits every commit on your local stack as its own pull request
and keeps the remote in sync as you amend, reorder and rebase.

Running ghstack with no subcommand is equivalent to 'ghstack submit'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := &submit.Command{}
		return c.Run(cmd.Context())
	},
}

// Execute runs the CLI. Exit codes: 0 success, 1 user error, 2 invariant
// violation.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.Error(err.Error())
		var inv *stack.InvariantError
		if errors.As(err, &inv) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	commands := []Command{
		&submit.Command{},
		&land.Command{},
		&unlink.Command{},
		&checkout.Command{},
		&status.Command{},
	}
	for _, cmd := range commands {
		cmd.Register(rootCmd)
	}
}
