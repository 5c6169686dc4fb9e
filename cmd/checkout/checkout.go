package checkout

import (
	"context"
	"fmt"
	"strings"

	fuzzyfinder "github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/ezyang/ghstack/internal/common"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/stack"
	"github.com/ezyang/ghstack/internal/ui"
)

// Command checks out the orig branch of a ghstack pull request, recreating
// the submitter's local stack in this checkout.
type Command struct {
	pullRequest string
}

// Register registers the command with cobra.
func (c *Command) Register(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "checkout [PR_URL]",
		Short: "Check out the original commits behind a ghstack pull request",
		Long: `Fetch and check out the orig branch backing a ghstack PR, which restores
the clean commit stack the PR was submitted from. With no argument, pick one
of your open ghstack PRs interactively.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.pullRequest = args[0]
			}
			return c.Run(cmd.Context())
		},
	}
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

	var headRef string
	if c.pullRequest != "" {
		_, urlOwner, urlName, number, err := stack.ParsePullURL(c.pullRequest)
		if err != nil {
			return stack.UserErrorf("%v", err)
		}
		pr, err := forge.GetPR(ctx, urlOwner, urlName, number)
		if err != nil {
			return err
		}
		headRef = pr.HeadRef
	} else {
		pr, err := pickPR(ctx, forge, owner, name, cfg.GithubUsername)
		if err != nil {
			return err
		}
		headRef = pr.HeadRef
	}

	origRef := strings.TrimSuffix(headRef, "/head") + "/orig"
	if origRef == headRef {
		return stack.UserErrorf("the ref %s doesn't look like a ghstack reference", headRef)
	}

	if err := gitClient.Fetch(cfg.RemoteName); err != nil {
		return err
	}
	remoteRef := cfg.RemoteName + "/" + origRef
	if err := gitClient.Checkout(remoteRef); err != nil {
		return err
	}
	ui.Successf("Checked out %s", remoteRef)
	return nil
}

// pickPR fuzzy-picks one of the user's open ghstack PRs.
func pickPR(ctx context.Context, forge github.Endpoint, owner, name, username string) (*github.PR, error) {
	prs, err := forge.ListOpenPRs(ctx, owner, name, username)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, stack.UserErrorf("you have no open ghstack pull requests in %s/%s", owner, name)
	}
	idx, err := fuzzyfinder.Find(prs, func(i int) string {
		return fmt.Sprintf("#%d %s", prs[i].Number, prs[i].Title)
	})
	if err != nil {
		return nil, err
	}
	return prs[idx], nil
}
