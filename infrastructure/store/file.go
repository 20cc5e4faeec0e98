// Package store persists weight learner snapshots so learned weights
// survive process restarts. Snapshots are encoded as JSON.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

const backendFile = "file"

var _ ports.WeightStore = (*FileStore)(nil)

// FileStore keeps the latest snapshot in a single JSON file. Writes go to a
// temporary file in the same directory and are renamed into place, so a
// reader never observes a partial snapshot.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file and its parent
// directory are created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ports.NewConfigError("store.path", ports.ErrConfigNotFound)
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Save implements ports.WeightStore.
func (s *FileStore) Save(ctx context.Context, state domain.LearnerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return ports.NewStoreError(backendFile, "encode", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ports.NewStoreError(backendFile, "mkdir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return ports.NewStoreError(backendFile, "create", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return ports.NewStoreError(backendFile, "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return ports.NewStoreError(backendFile, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ports.NewStoreError(backendFile, "close", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return ports.NewStoreError(backendFile, "rename", err)
	}
	return nil
}

// Load implements ports.WeightStore.
func (s *FileStore) Load(ctx context.Context) (domain.LearnerState, error) {
	if err := ctx.Err(); err != nil {
		return domain.LearnerState{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return domain.LearnerState{}, ports.NewStoreError(backendFile, "load", ports.ErrStateNotFound)
	}
	if err != nil {
		return domain.LearnerState{}, ports.NewStoreError(backendFile, "read", err)
	}
	return decode(backendFile, data)
}

// decode parses a snapshot, mapping malformed payloads to ErrStateCorrupted.
func decode(backend string, data []byte) (domain.LearnerState, error) {
	var state domain.LearnerState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.LearnerState{}, ports.NewStoreError(backend, "decode",
			fmt.Errorf("%w: %w", ports.ErrStateCorrupted, err))
	}
	if state.Weights == nil {
		state.Weights = make(map[string]float64)
	}
	return state, nil
}
