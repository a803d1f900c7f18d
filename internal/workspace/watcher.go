package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
)

// maxDiffBytes caps the file size the watcher will diff. Larger files still
// produce a file.edited event, just without a diff body.
const maxDiffBytes = 1 << 20

// Watcher publishes a file.edited bus event, carrying a unified diff of the
// change, whenever a non-ignored file under the workspace root is written.
// Directories created while watching are picked up automatically.
type Watcher struct {
	ws  *Workspace
	bus *event.Bus
	fsw *fsnotify.Watcher
	dmp *diffmatchpatch.DiffMatchPatch
	log zerolog.Logger

	mu       sync.Mutex
	contents map[string][]byte

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher over the workspace. Call Start to begin
// watching and Close to stop.
func NewWatcher(ws *Workspace, bus *event.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		ws:       ws,
		bus:      bus,
		fsw:      fsw,
		dmp:      diffmatchpatch.New(),
		log:      logging.For("watcher"),
		contents: make(map[string][]byte),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the root and every non-ignored subdirectory and begins
// delivering events in the background.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.ws.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.ws.Root(), path)
		if relErr == nil && rel != "." && w.ws.ignored(filepath.ToSlash(rel)) {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to register watch directories: %w", err)
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// Close stops watching. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.ws.Root(), ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || w.ws.ignored(rel) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("path", rel).Msg("failed to watch new directory")
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
			w.mu.Lock()
			delete(w.contents, rel)
			w.mu.Unlock()
		}
		return
	}

	w.publishEdit(rel, ev.Name)
}

// publishEdit diffs the file against its last seen contents and emits the
// file.edited event.
func (w *Watcher) publishEdit(rel, abs string) {
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return
	}

	var diff string
	if info.Size() <= maxDiffBytes {
		current, err := os.ReadFile(abs)
		if err != nil {
			return
		}

		w.mu.Lock()
		previous := w.contents[rel]
		w.contents[rel] = current
		w.mu.Unlock()

		patches := w.dmp.PatchMake(string(previous), string(current))
		diff = w.dmp.PatchToText(patches)
	}

	if w.bus != nil {
		w.bus.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{Path: rel, Diff: diff},
		})
	}
	w.log.Debug().Str("path", rel).Msg("file edited")
}
