package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	abs, err := ResolvePath("./somewhere/../here")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
	assert.NotContains(t, abs, "..")
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	require.NoError(t, EnsureParent(target))
	assert.DirExists(t, filepath.Dir(target))
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(filepath.Join(dir, "nope")))
}

func TestTokenHex(t *testing.T) {
	tok := TokenHex(8)
	assert.Len(t, tok, 16)
	assert.Regexp(t, "^[0-9a-f]+$", tok)
	assert.NotEqual(t, tok, TokenHex(8))
}
