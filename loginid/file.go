package loginid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the login-id state as a single JSON file, so cold
// starts still know the last-used identifier. Writes go through a temp
// file and rename to stay atomic on the same filesystem.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// NewFileStore loads (or creates) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("loginid: store path is empty")
	}

	s := &FileStore{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("loginid: failed to read store file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt store is not fatal; start over rather than block flows.
		s.data = make(map[string]string)
	}
	return s, nil
}

// Get retrieves a value by key.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores a value under key and flushes the file.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("loginid: failed to encode store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("loginid: failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("loginid: failed to replace store file: %w", err)
	}
	return nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return filepath.Clean(s.path) }
