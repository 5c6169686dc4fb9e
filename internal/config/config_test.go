package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRC(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ghstackrc"), []byte(content), 0600))
}

func TestLoadFromRC(t *testing.T) {
	dir := t.TempDir()
	writeRC(t, dir, `[ghstack]
github_url = github.com
github_username = ezyang
github_oauth = sekrit
remote_name = upstream
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "github.com", cfg.GithubURL)
	assert.Equal(t, "ezyang", cfg.GithubUsername)
	assert.Equal(t, "sekrit", cfg.GithubOAuth)
	assert.Equal(t, "upstream", cfg.RemoteName)
}

func TestLoadWalksUp(t *testing.T) {
	dir := t.TempDir()
	writeRC(t, dir, `[ghstack]
github_username = ezyang
github_oauth = sekrit
`)
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, "ezyang", cfg.GithubUsername)
	// Defaults fill in what the file leaves out.
	assert.Equal(t, "github.com", cfg.GithubURL)
	assert.Equal(t, "origin", cfg.RemoteName)
}

func TestEnvTokenOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeRC(t, dir, `[ghstack]
github_username = ezyang
github_oauth = from-file
`)
	t.Setenv("GHSTACK_OAUTH_TOKEN", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GithubOAuth)
}

func TestMissingTokenRejected(t *testing.T) {
	dir := t.TempDir()
	writeRC(t, dir, `[ghstack]
github_username = ezyang
`)
	t.Setenv("GHSTACK_OAUTH_TOKEN", "")
	t.Setenv("HOME", dir)

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "OAuth token")
}

func TestBadUsernameRejected(t *testing.T) {
	dir := t.TempDir()
	writeRC(t, dir, `[ghstack]
github_username = -not-valid-
github_oauth = x
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not a valid GitHub username")
}
