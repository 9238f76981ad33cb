package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train-000000.tar"))
	mustWrite(t, filepath.Join(dir, "nested", "train-000001.tar"))
	mustWrite(t, filepath.Join(dir, "test-000000.tar"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "nested", "train-000001.tar"),
		filepath.Join(dir, "train-000000.tar"),
	}, shards)

	test, err := DiscoverShards(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "test-000000.tar")}, test)
}

func TestDiscoverShardsGrowth(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train-000000.tar"))

	first, err := DiscoverShards(dir, "train")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	mustWrite(t, filepath.Join(dir, "train-000001.tar"))

	second, err := DiscoverShards(dir, "train")
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestDiscoverShardsMissingRoot(t *testing.T) {
	_, err := DiscoverShards(filepath.Join(t.TempDir(), "absent"), "train")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
}
