package eml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("From: a@example.com\n\nhi\n"), 0o644))
	}
}

func TestDiscoverFlat(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.eml", "a.EML", "notes.txt", "sub/c.eml")

	files, err := Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.EML"),
		filepath.Join(dir, "b.eml"),
	}, files)
}

func TestDiscoverRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.eml", "a/z.eml", "a/y/x.eml", "c.msg")

	files, err := Discover(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", "y", "x.eml"),
		filepath.Join(dir, "a", "z.eml"),
		filepath.Join(dir, "b.eml"),
	}, files)
}

func TestDiscoverEmptyDir(t *testing.T) {
	files, err := Discover(t.TempDir(), false)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscoverMissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), false)
	require.Error(t, err)
	assert.True(t, IsNotExist(err))
}

func TestDiscoverNotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "one.eml")

	_, err := Discover(filepath.Join(dir, "one.eml"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestReadFileHashesContent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "one.eml", "two.eml")

	one, err := ReadFile(filepath.Join(dir, "one.eml"))
	require.NoError(t, err)
	two, err := ReadFile(filepath.Join(dir, "two.eml"))
	require.NoError(t, err)

	assert.Len(t, one.Hash, 64)
	assert.Equal(t, one.Hash, two.Hash)
	assert.Equal(t, "From: a@example.com\n\nhi\n", string(one.Raw))

	_, err = ReadFile(filepath.Join(dir, "three.eml"))
	assert.True(t, IsNotExist(err))
}
