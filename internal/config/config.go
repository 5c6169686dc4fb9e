// Package config loads ghstack's configuration from .ghstackrc files. The
// search order matches the historical behavior: walk up from the current
// directory looking for a .ghstackrc, falling back to ~/.ghstackrc. The
// OAuth token may also come from the GHSTACK_OAUTH_TOKEN environment
// variable, which overrides the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/viper"
)

// Config holds the settings the engine needs to reach GitHub.
type Config struct {
	// GithubURL is the forge host, normally github.com.
	GithubURL string
	// GithubUsername namespaces the gh/<username>/<n>/* branches.
	GithubUsername string
	// GithubOAuth authenticates API calls.
	GithubOAuth string
	// RemoteName is the upstream remote, normally origin.
	RemoteName string
	// Proxy, if set, is used for forge connections.
	Proxy string
}

var usernameRE = regexp.MustCompile(`^[a-zA-Z\d](?:[a-zA-Z\d]|-[a-zA-Z\d]){0,38}$`)

// findRC walks up from dir looking for a .ghstackrc, then tries the home
// directory. Returns "" if no file exists.
func findRC(dir string) string {
	for {
		p := filepath.Join(dir, ".ghstackrc")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".ghstackrc")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the configuration, starting the .ghstackrc search at startDir.
func Load(startDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetDefault("ghstack.github_url", "github.com")
	v.SetDefault("ghstack.remote_name", "origin")

	if path := findRC(startDir); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		GithubURL:      v.GetString("ghstack.github_url"),
		GithubUsername: v.GetString("ghstack.github_username"),
		GithubOAuth:    v.GetString("ghstack.github_oauth"),
		RemoteName:     v.GetString("ghstack.remote_name"),
		Proxy:          v.GetString("ghstack.proxy"),
	}

	if tok := os.Getenv("GHSTACK_OAUTH_TOKEN"); tok != "" {
		cfg.GithubOAuth = tok
	}

	if cfg.GithubOAuth == "" {
		return nil, fmt.Errorf("no GitHub OAuth token configured; add github_oauth to your .ghstackrc " +
			"(make a token at https://github.com/settings/tokens with public_repo permissions) " +
			"or set GHSTACK_OAUTH_TOKEN")
	}
	if cfg.GithubUsername == "" {
		return nil, fmt.Errorf("no GitHub username configured; add github_username to your .ghstackrc")
	}
	if !usernameRE.MatchString(cfg.GithubUsername) {
		return nil, fmt.Errorf("%q is not a valid GitHub username", cfg.GithubUsername)
	}
	return cfg, nil
}
