// Package nats provides a storage.Backend for NATS JetStream key/value
// buckets using the native Watch API.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/ripple/internal/keyenc"
	"github.com/zoobzio/ripple/storage"
)

// subjectKeys maps storage keys onto the KV key alphabet [-/_=.a-zA-Z0-9].
// Dots are escaped too, since keys may not start or end with one.
var subjectKeys = keyenc.Encoding{
	Escape: '=',
	Valid: func(c byte) bool {
		return keyenc.Alnum(c) || c == '-' || c == '_' || c == '/'
	},
}

// Backend stores values in a KV bucket.
type Backend struct {
	kv jetstream.KeyValue
}

// New creates a Backend over kv.
func New(kv jetstream.KeyValue) *Backend {
	return &Backend{kv: kv}
}

// Open creates the bucket if it does not exist and returns a Backend over it.
func Open(ctx context.Context, js jetstream.JetStream, bucket string) (*Backend, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, subjectKeys.Encode(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Set writes value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Put(ctx, subjectKeys.Encode(key), value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete places a delete marker on key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.kv.Delete(ctx, subjectKeys.Encode(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every live key in the bucket, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	raw, err := b.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, subjectKeys.Decode(k))
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch emits every put, delete and purge of key made after Watch returns.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	watcher, err := b.kv.Watch(ctx, subjectKeys.Encode(key), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}

				change := storage.Change{Key: key}
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					change.Deleted = true
				default:
					change.Value = entry.Value()
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
