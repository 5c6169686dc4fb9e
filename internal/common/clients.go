// Package common wires up the clients the subcommands share.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ezyang/ghstack/internal/config"
	"github.com/ezyang/ghstack/internal/git"
	"github.com/ezyang/ghstack/internal/github"
	"github.com/ezyang/ghstack/internal/ui"
)

// InitClients initializes the git client, configuration, and forge endpoint.
func InitClients() (*git.Client, *config.Config, github.Endpoint, error) {
	gitClient, err := git.NewClient()
	if err != nil {
		ui.Error("Not in a git repository")
		return nil, nil, nil, fmt.Errorf("git client initialization failed: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = gitClient.Root()
	}
	cfg, err := config.Load(wd)
	if err != nil {
		return nil, nil, nil, err
	}
	forge := &github.RealEndpoint{
		GithubURL:  cfg.GithubURL,
		OAuthToken: cfg.GithubOAuth,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		forge.Client = &http.Client{Transport: transport}
	}
	return gitClient, cfg, forge, nil
}
