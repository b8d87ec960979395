// Package filestore persists registry snapshots as a YAML document on
// local disk.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/noderegistry/store"
)

// DefaultFileName is used when the store is opened on a directory.
const DefaultFileName = "nodes.yaml"

// Store keeps the snapshot in a single YAML file. Writes go to a temporary
// file in the same directory that is then renamed over the target, so a
// crash never leaves a half-written snapshot behind.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store backed by path. If path is an existing directory,
// the snapshot lives in DefaultFileName inside it. The file itself does
// not need to exist yet.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path cannot be empty")
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		path = filepath.Join(path, DefaultFileName)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	return &Store{path: path}, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot file. A missing file means nothing was stored.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked()
}

// Save writes snap with the next revision number.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if snap == nil {
		snap = &store.Snapshot{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readLocked()
	if err != nil && !errors.Is(err, store.ErrInvalidSnapshot) {
		return 0, err
	}
	var rev int64 = 1
	if current != nil {
		rev = current.Revision + 1
	}

	data, err := yaml.Marshal(&store.Snapshot{Revision: rev, Nodes: snap.Nodes})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := writeAtomic(s.path, data); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorageFailed, err)
	}
	return rev, nil
}

// Ping verifies the snapshot directory exists.
func (s *Store) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailed, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", store.ErrStorageFailed, dir)
	}
	return nil
}

func (s *Store) readLocked() (*store.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read snapshot file: %v", store.ErrStorageFailed, err)
	}

	var snap store.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: failed to parse snapshot file: %v", store.ErrInvalidSnapshot, err)
	}
	store.Normalize(&snap)
	return &snap, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}
