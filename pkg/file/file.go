// Package file provides a storage.Backend that keeps one file per key in a
// directory and watches it with fsnotify.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/ripple/storage"
)

const tempPattern = ".ripple-*.tmp"

// Backend stores each key as a file in dir. Keys are path-escaped so any
// key maps to a single file name. Writes go through a temporary file and a
// rename, so watchers never observe a partial value.
type Backend struct {
	dir  string
	ext  string
	perm fs.FileMode
}

// Option configures a Backend.
type Option func(*Backend)

// WithExtension appends ext to every file name, e.g. ".json".
func WithExtension(ext string) Option {
	return func(b *Backend) {
		b.ext = ext
	}
}

// WithPermissions sets the mode of written files. Defaults to 0o600.
func WithPermissions(perm fs.FileMode) Option {
	return func(b *Backend) {
		b.perm = perm
	}
}

// New creates a Backend rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Backend, error) {
	b := &Backend{
		dir:  dir,
		perm: 0o600,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return b, nil
}

// Path returns the file that holds key.
func (b *Backend) Path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key)+b.ext)
}

// Get reads the file for key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Set atomically replaces the file for key.
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(b.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()

	_, err = tmp.Write(value)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(name, b.perm)
	}
	if err == nil {
		err = os.Rename(name, b.Path(key))
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (b *Backend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys stored in the directory, sorted.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		key, ok := b.keyOf(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// keyOf maps a file name back to its key. Temporary files and names
// without the configured extension are not keys.
func (b *Backend) keyOf(name string) (string, bool) {
	if strings.HasPrefix(name, ".ripple-") || !strings.HasSuffix(name, b.ext) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, b.ext))
	if err != nil {
		return "", false
	}
	return key, true
}

// Watch watches the directory and emits a Change whenever the file for key
// is written, replaced or removed. Consecutive identical changes are
// collapsed, since one write can raise several events.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", b.dir, err)
	}

	path := filepath.Clean(b.Path(key))
	out := make(chan storage.Change)

	go func() {
		defer close(out)
		defer watcher.Close()

		var last *storage.Change
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}

				change := storage.Change{Key: key}
				data, err := os.ReadFile(path)
				switch {
				case errors.Is(err, fs.ErrNotExist):
					change.Deleted = true
				case err != nil:
					continue
				default:
					change.Value = data
				}

				if last != nil && last.Deleted == change.Deleted && bytes.Equal(last.Value, change.Value) {
					continue
				}
				last = &change

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
