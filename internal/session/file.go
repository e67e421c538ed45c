package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStorage keeps the keys in a YAML document on disk. It is the storage of the
// command-line client.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage returns storage backed by the file at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file location.
func (f *FileStorage) Path() string {
	return f.path
}

// Load reads the document. A missing file is empty storage.
func (f *FileStorage) Load(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", f.path, err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", f.path, err)
	}
	return values, nil
}

// Save writes a temporary file and renames it over the document.
func (f *FileStorage) Save(ctx context.Context, values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("session: rename: %w", err)
	}
	return nil
}

// Clear removes the document.
func (f *FileStorage) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", f.path, err)
	}
	return nil
}

var _ Storage = (*FileStorage)(nil)
