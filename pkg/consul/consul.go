// Package consul provides a storage.Backend for Consul KV using blocking
// queries to watch keys.
package consul

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/ripple/storage"
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "ripple/"

// DefaultRetryDelay is how long a watch waits after a failed query.
const DefaultRetryDelay = time.Second

// Backend stores values under a KV prefix.
type Backend struct {
	kv         *api.KV
	prefix     string
	retryDelay time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix sets the prefix prepended to every key.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithRetryDelay sets how long a watch waits after a failed query.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// New creates a Backend over client.
func New(client *api.Client, opts ...Option) *Backend {
	b := &Backend{
		kv:         client.KV(),
		prefix:     DefaultPrefix,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) path(key string) string {
	return b.prefix + key
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := b.kv.Get(b.path(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if pair == nil {
		return nil, storage.ErrNotFound
	}
	return pair.Value, nil
}

// Set writes value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(&api.KVPair{Key: b.path(key), Value: value}, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.kv.Delete(b.path(key), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key under the prefix, prefix stripped, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	raw, _, err := b.kv.Keys(b.prefix, "", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, b.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch long-polls key with blocking queries and emits a Change whenever
// its modify index moves or it disappears.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	// Get initial index
	pair, meta, err := b.kv.Get(b.path(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex
		var modifyIndex uint64
		if pair != nil {
			modifyIndex = pair.ModifyIndex
		}

		for {
			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := b.kv.Get(b.path(key), opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.retryDelay):
				}
				continue
			}

			// An index that goes backwards means the store was reset.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			lastIndex = meta.LastIndex

			var change storage.Change
			switch {
			case pair == nil && modifyIndex != 0:
				modifyIndex = 0
				change = storage.Change{Key: key, Deleted: true}
			case pair != nil && pair.ModifyIndex != modifyIndex:
				modifyIndex = pair.ModifyIndex
				change = storage.Change{Key: key, Value: pair.Value}
			default:
				continue
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
