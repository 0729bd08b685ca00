// Package zookeeper provides a storage.Backend that keeps each key as a
// child znode of a root path and watches it with GetW and ExistsW.
package zookeeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/ripple/storage"
)

// DefaultRoot is the parent znode of every key.
const DefaultRoot = "/ripple"

// Backend stores values as znode data. Keys are path-escaped so each key is
// a single child of the root.
type Backend struct {
	conn *zk.Conn
	root string
	acl  []zk.ACL
}

// Option configures a Backend.
type Option func(*Backend)

// WithRoot sets the parent znode. It is created on the first write.
func WithRoot(root string) Option {
	return func(b *Backend) {
		if root != "" {
			b.root = path.Clean("/" + root)
		}
	}
}

// WithACL sets the ACL of created znodes. Defaults to world-writable.
func WithACL(acl []zk.ACL) Option {
	return func(b *Backend) {
		if len(acl) > 0 {
			b.acl = acl
		}
	}
}

// New creates a Backend over conn.
func New(conn *zk.Conn, opts ...Option) *Backend {
	b := &Backend{
		conn: conn,
		root: DefaultRoot,
		acl:  zk.WorldACL(zk.PermAll),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the znode that holds key.
func (b *Backend) Path(key string) string {
	return b.root + "/" + url.PathEscape(key)
}

// ensureRoot creates the root and its ancestors.
func (b *Backend) ensureRoot() error {
	current := ""
	for _, part := range strings.Split(strings.Trim(b.root, "/"), "/") {
		current += "/" + part
		_, err := b.conn.Create(current, nil, 0, b.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", current, err)
		}
	}
	return nil
}

// Get returns the data of the znode for key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	data, _, err := b.conn.Get(b.Path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set writes value to the znode for key, creating it when missing.
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	p := b.Path(key)
	for {
		_, err := b.conn.Set(p, value, -1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}

		_, err = b.conn.Create(p, value, 0, b.acl)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, zk.ErrNodeExists):
			// Created concurrently; overwrite it.
			continue
		case errors.Is(err, zk.ErrNoNode):
			if err := b.ensureRoot(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("failed to create %s: %w", key, err)
		}
	}
}

// Delete removes the znode for key.
func (b *Backend) Delete(_ context.Context, key string) error {
	err := b.conn.Delete(b.Path(key), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the children of the root, sorted.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	children, _, err := b.conn.Children(b.root)
	if errors.Is(err, zk.ErrNoNode) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(children))
	for _, c := range children {
		key, err := url.PathUnescape(c)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// arm reads the znode and leaves a one-shot watch on it. A missing znode is
// watched for creation.
func (b *Backend) arm(p string) ([]byte, bool, <-chan zk.Event, error) {
	for {
		data, _, eventCh, err := b.conn.GetW(p)
		if err == nil {
			return data, true, eventCh, nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return nil, false, nil, err
		}

		// Node doesn't exist yet, watch for creation
		exists, _, eventCh, err := b.conn.ExistsW(p)
		if err != nil {
			return nil, false, nil, err
		}
		if !exists {
			return nil, false, eventCh, nil
		}
		// Created between the two calls; read it again.
	}
}

// Watch emits a Change whenever the znode for key is created, changed or
// deleted. ZooKeeper watches are one-shot, so updates landing while the
// watch is re-armed are collapsed into the latest value.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	p := b.Path(key)
	last, exists, eventCh, err := b.arm(p)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", key, err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if event.Type == zk.EventNotWatching {
					return
				}
			}

			data, ok, next, err := b.arm(p)
			if err != nil {
				return
			}
			eventCh = next

			if ok == exists && bytes.Equal(data, last) {
				continue
			}
			last, exists = data, ok

			select {
			case out <- storage.Change{Key: key, Value: data, Deleted: !ok}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
