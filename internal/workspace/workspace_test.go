package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T, ignore []string) (*Workspace, string) {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "config.go"), []byte("package src\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref\n"), 0o644))

	ws, err := New(dir, ignore)
	require.NoError(t, err)
	return ws, dir
}

func TestWorkspace_ListRoot(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	entries, err := ws.List(".")
	require.NoError(t, err)
	require.Len(t, entries, 2) // .git ignored by defaults

	assert.Equal(t, "src", entries[0].Name)
	assert.True(t, entries[0].Dir)
	assert.Equal(t, "main.go", entries[1].Name)
	assert.False(t, entries[1].Dir)
	assert.Positive(t, entries[1].Size)
}

func TestWorkspace_ListSubdirectory(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	entries, err := ws.List("src")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "src/config.go", entries[0].Path)
}

func TestWorkspace_ListUnknownDir(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	_, err := ws.List("no/such/dir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkspace_CustomIgnorePatterns(t *testing.T) {
	ws, _ := newWorkspace(t, []string{"**/*.go"})

	entries, err := ws.List(".")
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotEqual(t, "main.go", e.Name)
	}
}

func TestWorkspace_ReadFile(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	data, err := ws.ReadFile("main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestWorkspace_ReadDirectoryFails(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	_, err := ws.ReadFile("src")
	assert.Error(t, err)
}

func TestWorkspace_PathEscapeRejected(t *testing.T) {
	ws, dir := newWorkspace(t, nil)

	// Plant a file just outside the root to prove it is unreachable.
	outside := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))
	defer os.Remove(outside)

	for _, p := range []string{"../secret.txt", "src/../../secret.txt", "/../secret.txt"} {
		_, err := ws.ReadFile(p)
		assert.Error(t, err, "path %q must not resolve", p)
		assert.NotErrorIs(t, err, ErrTooLarge)
	}
}

func TestWorkspace_AbsolutePathStaysInRoot(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	// Absolute paths are re-rooted rather than followed.
	data, err := ws.ReadFile("/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestWorkspace_SearchPrefersSubstringMatches(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	matches, err := ws.Search("config", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "src/config.go", matches[0].Path)
}

func TestWorkspace_SearchSkipsIgnored(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	matches, err := ws.Search("HEAD", 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.Path, ".git")
	}
}

func TestWorkspace_SearchLimit(t *testing.T) {
	ws, _ := newWorkspace(t, nil)

	matches, err := ws.Search("go", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestNew_RejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(file, nil)
	assert.Error(t, err)
}
