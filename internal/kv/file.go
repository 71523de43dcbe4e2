package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store backed by a single JSON file on disk. The whole key
// space is kept in memory and written through on every mutation via a
// temp file + os.Rename so readers never observe a partial write.
type File struct {
	mu    sync.Mutex
	path  string
	items map[string]string
}

// NewFile creates a file-backed store at path, creating parent
// directories as needed. A missing or corrupt file is treated as an
// empty store.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	f := &File{path: path, items: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading store file: %w", err)
		}
		return f, nil
	}
	if err := json.Unmarshal(data, &f.items); err != nil {
		// Corrupt backing file: start empty rather than fail.
		slog.Warn("[KV] Corrupt store file, starting empty", "path", path, "error", err)
		f.items = make(map[string]string)
	}
	return f, nil
}

// Get returns the value for key.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	return v, ok, nil
}

// Set stores value under key and flushes to disk.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = value
	return f.flushLocked()
}

// Remove deletes key and flushes to disk.
func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return nil
	}
	delete(f.items, key)
	return f.flushLocked()
}

// flushLocked writes the store atomically. Callers must hold f.mu.
func (f *File) flushLocked() error {
	data, err := json.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "kv-*.json.tmp")
	if err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing store: %w", err)
	}
	return nil
}

var _ Store = (*File)(nil)
