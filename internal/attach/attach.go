// Package attach stores files uploaded alongside user prompts. Uploads are
// all-or-nothing: either every file in the batch lands on disk or none do,
// so callers never see a partially attached message.
package attach

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// ErrNotFound is returned when an attachment does not exist.
var ErrNotFound = errors.New("attachment not found")

// File is one file to upload.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Store persists attachments under a base directory. Each attachment gets
// its own id-named subdirectory holding the file under its original name.
type Store struct {
	baseDir string
	log     zerolog.Logger
}

// NewStore creates a store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &Store{baseDir: baseDir, log: logging.For("attach")}, nil
}

// Upload stores a batch of files. On any failure every file already written
// for this batch is removed and a single error is returned, so the result
// is never a partial success.
func (s *Store) Upload(files []File) ([]types.Attachment, error) {
	attachments := make([]types.Attachment, 0, len(files))

	rollback := func() {
		for _, a := range attachments {
			os.RemoveAll(filepath.Join(s.baseDir, a.ID))
		}
	}

	for _, f := range files {
		if f.Name == "" {
			rollback()
			return nil, fmt.Errorf("attachment has no name")
		}

		id := ulid.Make().String()
		name := filepath.Base(f.Name)
		relPath := filepath.Join(id, name)

		if err := s.writeFile(filepath.Join(s.baseDir, relPath), f.Data); err != nil {
			rollback()
			return nil, fmt.Errorf("failed to store %q: %w", f.Name, err)
		}

		attachments = append(attachments, types.Attachment{
			ID:        id,
			Name:      name,
			Path:      relPath,
			MediaType: f.MediaType,
			Size:      int64(len(f.Data)),
		})
	}

	return attachments, nil
}

// writeFile writes data atomically: temp file in the target directory, then
// rename into place.
func (s *Store) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Open returns the file contents of a stored attachment by its
// store-relative path. Paths escaping the base directory are rejected.
func (s *Store) Open(relPath string) ([]byte, error) {
	full := filepath.Join(s.baseDir, filepath.Clean(relPath))
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}
