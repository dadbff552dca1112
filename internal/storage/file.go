package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
)

var _ Store = (*File)(nil)

// File is a Store backed by a single JSON file, the server-side analogue of
// browser localStorage. Every mutation rewrites the file atomically
// (temp file + rename), so a crash mid-write never corrupts existing state.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// NewFile opens (or creates on first Set) the store at path. A missing file
// is an empty store, not an error.
func NewFile(path string) (*File, error) {
	f := &File{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, errors.Wrap(err, "read store file")
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.values); err != nil {
			return nil, errors.Wrap(err, "decode store file")
		}
	}
	return f, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return f.persistLocked()
}

// Delete implements Store.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.persistLocked()
}

// persistLocked writes the full map to disk. Caller must hold f.mu.
func (f *File) persistLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store file")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cart-ids-*")
	if err != nil {
		return errors.Wrap(err, "create temp store file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp store file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp store file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace store file")
	}
	return nil
}
