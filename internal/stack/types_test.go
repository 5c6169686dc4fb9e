package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchNames(t *testing.T) {
	assert.Equal(t, "gh/ezyang/23/head", BranchHead("ezyang", 23))
	assert.Equal(t, "gh/ezyang/23/base", BranchBase("ezyang", 23))
	assert.Equal(t, "gh/ezyang/23/orig", BranchOrig("ezyang", 23))
}

func TestParseHeadRef(t *testing.T) {
	user, n, ok := ParseHeadRef("gh/ezyang/23/head")
	require.True(t, ok)
	assert.Equal(t, "ezyang", user)
	assert.Equal(t, 23, n)

	// Malformed gh/* names are tolerated by ignoring them.
	for _, ref := range []string{
		"gh/ezyang/23/base",
		"gh/ezyang/head",
		"gh/ezyang/not-a-number/head",
		"feature-branch",
		"export-D12345",
	} {
		_, _, ok := ParseHeadRef(ref)
		assert.False(t, ok, "ref %q must not parse", ref)
	}
}

func TestParsePullURL(t *testing.T) {
	host, owner, name, number, err := ParsePullURL("https://github.com/pytorch/pytorch/pull/500")
	require.NoError(t, err)
	assert.Equal(t, "github.com", host)
	assert.Equal(t, "pytorch", owner)
	assert.Equal(t, "pytorch", name)
	assert.Equal(t, 500, number)

	_, _, _, _, err = ParsePullURL("https://github.com/pytorch/pytorch/issues/500")
	assert.Error(t, err)
}
