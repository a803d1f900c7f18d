package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/event"
)

// collectEdits subscribes to file.edited events and returns an accessor.
func collectEdits(t *testing.T, bus *event.Bus) func() []event.FileEditedData {
	t.Helper()
	var mu sync.Mutex
	var edits []event.FileEditedData

	unsub := bus.Subscribe(event.FileEdited, func(e event.Event) {
		if data, ok := e.Data.(event.FileEditedData); ok {
			mu.Lock()
			edits = append(edits, data)
			mu.Unlock()
		}
	})
	t.Cleanup(unsub)

	return func() []event.FileEditedData {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.FileEditedData(nil), edits...)
	}
}

func TestWatcher_PublishesEditWithDiff(t *testing.T) {
	ws, dir := newWorkspace(t, nil)
	bus := event.NewBus()
	defer bus.Close()

	edits := collectEdits(t, bus)

	w, err := NewWatcher(ws, bus)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range edits() {
			if e.Path == "main.go" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	var edit event.FileEditedData
	for _, e := range edits() {
		if e.Path == "main.go" {
			edit = e
			break
		}
	}
	// Patch text percent-encodes whitespace, so match a single token.
	assert.NotEmpty(t, edit.Diff)
	assert.Contains(t, edit.Diff, "func")
}

func TestWatcher_IgnoredPathsStaySilent(t *testing.T) {
	ws, dir := newWorkspace(t, nil)
	bus := event.NewBus()
	defer bus.Close()

	edits := collectEdits(t, bus)

	w, err := NewWatcher(ws, bus)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: other\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	for _, e := range edits() {
		assert.NotContains(t, e.Path, ".git")
	}
}

func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	ws, dir := newWorkspace(t, nil)
	bus := event.NewBus()
	defer bus.Close()

	edits := collectEdits(t, bus)

	w, err := NewWatcher(ws, bus)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	newDir := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	// Give the watcher a beat to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "util.go"), []byte("package pkg\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range edits() {
			if e.Path == "pkg/util.go" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}
