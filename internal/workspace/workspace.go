// Package workspace exposes the working directory to the UI: sandboxed
// listing and reading, fuzzy file search and a change watcher. Every path is
// resolved relative to the root; escapes are rejected, never followed.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/logging"
)

var (
	// ErrNotFound is returned for paths that do not exist.
	ErrNotFound = errors.New("path not found")
	// ErrOutsideRoot is returned for paths escaping the workspace root.
	ErrOutsideRoot = errors.New("path is outside the workspace")
	// ErrTooLarge is returned for files above the read size cap.
	ErrTooLarge = errors.New("file too large")
)

const (
	// maxReadBytes caps file reads served over the API.
	maxReadBytes = 10 << 20
	// substringBoost pushes substring matches ahead of distance-only ones.
	substringBoost = 1 << 16
)

// defaultIgnore is applied when no ignore patterns are configured.
var defaultIgnore = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.DS_Store",
}

// Entry is one directory listing entry.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Dir  bool   `json:"dir"`
	Size int64  `json:"size"`
}

// Match is one fuzzy search hit, lower Distance is better.
type Match struct {
	Path     string `json:"path"`
	Distance int    `json:"distance"`
}

// Workspace serves files under a single root directory.
type Workspace struct {
	root   string
	ignore []string
	log    zerolog.Logger
}

// New creates a workspace rooted at dir. Patterns are doublestar globs
// matched against root-relative paths; nil means the default ignore set.
func New(dir string, ignore []string) (*Workspace, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", dir)
	}

	if ignore == nil {
		ignore = defaultIgnore
	}
	return &Workspace{
		root:   root,
		ignore: ignore,
		log:    logging.For("workspace"),
	}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// List returns the entries of a directory, ignored paths filtered out and
// directories sorted before files.
func (w *Workspace) List(rel string) ([]Entry, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to list %q: %w", rel, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entryRel := filepath.ToSlash(filepath.Join(filepath.Clean(rel), de.Name()))
		if entryRel == "." {
			entryRel = de.Name()
		}
		if w.ignored(entryRel) {
			continue
		}

		var size int64
		if info, err := de.Info(); err == nil && !de.IsDir() {
			size = info.Size()
		}
		entries = append(entries, Entry{
			Name: de.Name(),
			Path: entryRel,
			Dir:  de.IsDir(),
			Size: size,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// ReadFile returns a file's contents, capped at maxReadBytes.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %q: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", rel)
	}
	if info.Size() > maxReadBytes {
		return nil, ErrTooLarge
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", rel, err)
	}
	return data, nil
}

// Search walks the tree and returns up to limit files ranked by edit
// distance between the query and the file name. Substring hits rank ahead of
// pure distance matches so "conf" finds "config.go" before "cnf.go".
func (w *Workspace) Search(query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)

	var matches []Match
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if w.ignored(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := strings.ToLower(d.Name())
		dist := levenshtein.ComputeDistance(q, name)
		if strings.Contains(name, q) || strings.Contains(strings.ToLower(rel), q) {
			// Substring hits always rank ahead, shorter names first.
			dist -= substringBoost
		}
		matches = append(matches, Match{Path: rel, Distance: dist})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search walk failed: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Path < matches[j].Path
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// resolve turns a root-relative path into an absolute one, rejecting
// anything that escapes the root.
func (w *Workspace) resolve(rel string) (string, error) {
	abs := filepath.Join(w.root, filepath.Clean("/"+rel))
	sub, err := filepath.Rel(w.root, abs)
	if err != nil || sub == ".." || strings.HasPrefix(sub, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// ignored reports whether a root-relative slash path matches any ignore
// pattern.
func (w *Workspace) ignored(rel string) bool {
	for _, pattern := range w.ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
