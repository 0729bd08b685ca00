// Package redis provides a storage.Backend for Redis using keyspace
// notifications to watch keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/ripple/storage"
)

// DefaultScanCount is the COUNT hint used when listing keys.
const DefaultScanCount = 100

// Backend stores values as plain Redis strings. Watching requires keyspace
// notifications to be enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Backend struct {
	client    *redis.Client
	db        int
	pattern   string
	scanCount int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithPattern limits Keys to keys matching a Redis glob pattern.
// Defaults to "*".
func WithPattern(pattern string) Option {
	return func(b *Backend) {
		if pattern != "" {
			b.pattern = pattern
		}
	}
}

// WithScanCount sets the COUNT hint for SCAN.
func WithScanCount(n int64) Option {
	return func(b *Backend) {
		if n > 0 {
			b.scanCount = n
		}
	}
}

// New creates a Backend over client. The keyspace channel uses the database
// selected in the client options.
func New(client *redis.Client, opts ...Option) *Backend {
	b := &Backend{
		client:    client,
		db:        client.Options().DB,
		pattern:   "*",
		scanCount: DefaultScanCount,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

// Set writes value under key without expiry.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys scans every key matching the configured pattern.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.pattern, b.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to keyspace notifications for key and emits a Change
// for every write, delete or expiry.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	channel := fmt.Sprintf("__keyspace@%d__:%s", b.db, key)
	pubsub := b.client.Subscribe(ctx, channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var change storage.Change
				switch msg.Payload {
				case "set", "mset", "setex", "psetex", "setnx", "setrange", "append":
					val, err := b.client.Get(ctx, key).Bytes()
					if err != nil {
						continue
					}
					change = storage.Change{Key: key, Value: val}
				case "del", "expired", "evicted":
					change = storage.Change{Key: key, Deleted: true}
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
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
