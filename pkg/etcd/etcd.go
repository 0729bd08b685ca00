// Package etcd provides a storage.Backend for etcd using the native Watch
// API.
package etcd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zoobzio/ripple/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "/ripple/"

// Backend stores values under a key prefix.
type Backend struct {
	client *clientv3.Client
	prefix string
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix sets the prefix prepended to every key. An empty prefix stores
// keys at the root of the keyspace.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New creates a Backend over client.
func New(client *clientv3.Client, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		prefix: DefaultPrefix,
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
	resp, err := b.client.Get(ctx, b.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, storage.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Set writes value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := b.client.Put(ctx, b.path(key), string(value)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.Delete(ctx, b.path(key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key under the prefix, prefix stripped, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	resp, err := b.client.Get(ctx, b.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), b.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch emits every put and delete of key after the revision current when
// Watch is called.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	// Pin the starting revision so nothing between Watch and the first
	// watch response is lost.
	resp, err := b.client.Get(ctx, b.path(key), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)

		watchChan := b.client.Watch(ctx, b.path(key), clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					change := storage.Change{Key: key}
					switch event.Type {
					case clientv3.EventTypePut:
						change.Value = event.Kv.Value
					case clientv3.EventTypeDelete:
						change.Deleted = true
					default:
						continue
					}
					select {
					case out <- change:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
