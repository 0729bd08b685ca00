// Package memory provides an in-process storage.Backend. Watches fan out to
// every subscriber of a key, which makes it suitable for tests and for
// sharing state between components of one process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zoobzio/ripple/storage"
)

// DefaultBuffer is the per-watch channel capacity.
const DefaultBuffer = 16

type watcher struct {
	ctx context.Context
	in  chan storage.Change
}

// Backend is a map guarded by a mutex.
type Backend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]*watcher
	buffer   int
}

// Option configures a Backend.
type Option func(*Backend)

// WithBuffer sets the per-watch channel capacity.
func WithBuffer(n int) Option {
	return func(b *Backend) {
		if n >= 0 {
			b.buffer = n
		}
	}
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*watcher),
		buffer:   DefaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns a copy of the value under key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value and notifies watchers of key.
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	v := append([]byte(nil), value...)
	b.mu.Lock()
	b.data[key] = v
	subs := b.subscribers(key)
	b.mu.Unlock()

	b.publish(subs, storage.Change{Key: key, Value: v})
	return nil
}

// Delete removes key and notifies watchers when it existed.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	_, ok := b.data[key]
	delete(b.data, key)
	subs := b.subscribers(key)
	b.mu.Unlock()

	if ok {
		b.publish(subs, storage.Change{Key: key, Deleted: true})
	}
	return nil
}

// Keys returns every key, sorted.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch emits every later change to key until ctx is canceled.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	w := &watcher{
		ctx: ctx,
		in:  make(chan storage.Change, b.buffer),
	}
	b.mu.Lock()
	b.watchers[key] = append(b.watchers[key], w)
	b.mu.Unlock()

	out := make(chan storage.Change)
	go func() {
		defer close(out)
		defer b.unsubscribe(key, w)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-w.in:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// subscribers returns a copy of the watchers of key. Caller holds mu.
func (b *Backend) subscribers(key string) []*watcher {
	ws := b.watchers[key]
	out := make([]*watcher, len(ws))
	copy(out, ws)
	return out
}

func (b *Backend) publish(subs []*watcher, c storage.Change) {
	for _, w := range subs {
		select {
		case w.in <- c:
		case <-w.ctx.Done():
		}
	}
}

func (b *Backend) unsubscribe(key string, w *watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.watchers[key]
	for i, existing := range ws {
		if existing == w {
			b.watchers[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(b.watchers[key]) == 0 {
		delete(b.watchers, key)
	}
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
