package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Coordinates parse with optional classifier and extension.
func TestParse(t *testing.T) {
	c, err := Parse("net.minecraft:client:1.16.5:mappings@txt")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Group: "net.minecraft", Name: "client", Version: "1.16.5", Classifier: "mappings", Ext: "txt"}, c)
	assert.Equal(t, "net.minecraft:client:1.16.5:mappings@txt", c.String())
	assert.Equal(t, "client-1.16.5-mappings.txt", c.FileName())
	assert.Equal(t, "net/minecraft/client/1.16.5/client-1.16.5-mappings.txt", c.RepoPath())

	jar := MustParse("de.oceanlabs.mcp:mcp_config:1.16.5")
	assert.Equal(t, "jar", jar.Ext)
	assert.Equal(t, "de/oceanlabs/mcp/mcp_config/1.16.5/mcp_config-1.16.5.jar", jar.RepoPath())
}

// Incomplete coordinates are rejected.
func TestParse_Rejects(t *testing.T) {
	for _, s := range []string{"", "a:b", "a:b:c:d:e", "a::c", "a:b:c@"} {
		_, err := Parse(s)
		assert.Error(t, err, "coordinate %q", s)
	}
	assert.Panics(t, func() { MustParse("bad") })
}

// The first repository holding the artifact wins.
func TestRepoLocator_SearchesRootsInOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	c := MustParse("net.minecraft:server:1.16.5:mappings@txt")

	inSecond := filepath.Join(second, filepath.FromSlash(c.RepoPath()))
	require.NoError(t, os.MkdirAll(filepath.Dir(inSecond), 0o755))
	require.NoError(t, os.WriteFile(inSecond, []byte("x"), 0o644))

	l := NewRepoLocator(first, second)
	got, err := l.Locate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, inSecond, got)

	inFirst := filepath.Join(first, filepath.FromSlash(c.RepoPath()))
	require.NoError(t, os.MkdirAll(filepath.Dir(inFirst), 0o755))
	require.NoError(t, os.WriteFile(inFirst, []byte("y"), 0o644))

	got, err = l.Locate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, inFirst, got)
}

// A missing artifact yields ErrNotFound.
func TestRepoLocator_NotFound(t *testing.T) {
	l := NewRepoLocator(t.TempDir())
	_, err := l.Locate(context.Background(), MustParse("a:b:1"))
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Locate(ctx, MustParse("a:b:1"))
	assert.ErrorIs(t, err, context.Canceled)
}

// A directory at the artifact path is not an artifact.
func TestRepoLocator_IgnoresDirectories(t *testing.T) {
	root := t.TempDir()
	c := MustParse("a:b:1@zip")
	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(c.RepoPath())), 0o755))

	_, err := NewRepoLocator(root).Locate(context.Background(), c)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Cache paths mirror the repository layout.
func TestCachePath(t *testing.T) {
	c := MustParse("net.minecraft:mapping:1.16.5:mapping@zip")
	assert.Equal(t, filepath.Join("/cache", "net", "minecraft", "mapping", "1.16.5", "mapping-1.16.5-mapping.zip"), CachePath("/cache", c))
}
