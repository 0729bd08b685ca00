// Package firestore provides a storage.Backend that keeps each key in its own
// Firestore document and watches it with realtime listeners.
package firestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/ripple/internal/keyenc"
	"github.com/zoobzio/ripple/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultCollection holds the documents of a Backend.
	DefaultCollection = "ripple"

	// DefaultRetryDelay is the pause before a failed listener is reopened.
	DefaultRetryDelay = time.Second

	// Field is the document field holding the stored bytes.
	Field = "data"
)

// Backend stores values in a Firestore collection, one document per key.
type Backend struct {
	client     *firestore.Client
	collection string
	retryDelay time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(b *Backend) {
		b.collection = name
	}
}

// WithRetryDelay sets the pause before a failed listener is reopened.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Backend) {
		b.retryDelay = d
	}
}

// New creates a Backend over client.
func New(client *firestore.Client, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		collection: DefaultCollection,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Doc returns the document holding key.
func (b *Backend) Doc(key string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(docIDs.Encode(key))
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := b.Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	v, ok := value(snap)
	if !ok {
		return nil, fmt.Errorf("document %s has no %q field", snap.Ref.ID, Field)
	}
	return v, nil
}

// Set replaces the document of key.
func (b *Backend) Set(ctx context.Context, key string, v []byte) error {
	if v == nil {
		v = []byte{}
	}
	if _, err := b.Doc(key).Set(ctx, map[string]any{Field: v}); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// Delete removes the document of key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Keys returns the key of every document in the collection, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	iter := b.client.Collection(b.collection).Select().Documents(ctx)
	defer iter.Stop()

	keys := []string{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		keys = append(keys, docIDs.Decode(snap.Ref.ID))
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch listens to the document of key. The first snapshot is taken before
// Watch returns and is not emitted.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	ref := b.Doc(key)
	snapshots := ref.Snapshots(ctx)
	snap, err := snapshots.Next()
	if err != nil {
		snapshots.Stop()
		return nil, fmt.Errorf("failed to start listener: %w", err)
	}

	last, exists := value(snap)
	out := make(chan storage.Change)

	emit := func(snap *firestore.DocumentSnapshot) bool {
		v, ok := value(snap)
		if ok == exists && bytes.Equal(v, last) {
			return true
		}
		last, exists = v, ok
		select {
		case out <- storage.Change{Key: key, Value: v, Deleted: !ok}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		for listen(ctx, snapshots, emit) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.retryDelay):
			}
			// The first snapshot of the new listener catches up on anything missed.
			snapshots = ref.Snapshots(ctx)
		}
	}()

	return out, nil
}

// listen forwards snapshots to emit until the listener fails. It reports
// whether the listener should be reopened.
func listen(ctx context.Context, snapshots *firestore.DocumentSnapshotIterator, emit func(*firestore.DocumentSnapshot) bool) bool {
	defer snapshots.Stop()

	for {
		snap, err := snapshots.Next()
		if err != nil {
			return ctx.Err() == nil
		}
		if !emit(snap) {
			return false
		}
	}
}

func value(snap *firestore.DocumentSnapshot) ([]byte, bool) {
	if snap == nil || !snap.Exists() {
		return nil, false
	}
	switch v := snap.Data()[Field].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}

// docIDs keeps document IDs clear of '/', dot names and the reserved
// __name__ form.
var docIDs = keyenc.Encoding{
	Escape: '%',
	Valid: func(c byte) bool {
		return keyenc.Alnum(c) || c == '-' || c == ':'
	},
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
