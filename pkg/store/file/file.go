// Package file stores the snapshot as a single JSON document, the same
// format used for backups.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/store"
)

// Store implements SnapshotStore on a JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ store.SnapshotStore = (*Store)(nil)

// New returns a store for path. The parent directory is created on first save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.Default(time.Now().UTC()), nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := store.DecodeJSON(b, time.Now().UTC())
	if err != nil {
		slog.Warn("Snapshot file is unreadable, starting from defaults", "path", s.path, "error", err)
		return store.Default(time.Now().UTC()), nil
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it into place.
func (s *Store) Save(ctx context.Context, snap *domain.Snapshot) error {
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Export writes snap as a backup document.
func Export(w io.Writer, snap *domain.Snapshot) error {
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Import reads a backup document. Unlike Load it rejects input that is not
// a snapshot object at all.
func Import(r io.Reader) (*domain.Snapshot, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	snap, err := store.DecodeJSON(b, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}
	return snap, nil
}
