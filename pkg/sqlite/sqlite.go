// Package sqlite provides a storage.Backend over a single SQLite table.
// SQLite has no change notifications, so watches poll on a clock.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/ripple/storage"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultInterval is how often a watch polls for changes.
const DefaultInterval = time.Second

// Backend stores values in a key/value table.
type Backend struct {
	db       *sql.DB
	table    string
	interval time.Duration
	clock    clockz.Clock
}

// Option configures a Backend.
type Option func(*Backend)

// WithTable sets the table name. Defaults to "ripple_state".
func WithTable(table string) Option {
	return func(b *Backend) {
		if table != "" {
			b.table = table
		}
	}
}

// WithInterval sets the watch polling interval.
func WithInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithClock sets the clock driving watch polling.
// Use this with clockz.FakeClock for deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(b *Backend) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Open opens or creates the database at path and ensures the table exists.
func Open(path string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	// Other processes may hold the file; wait for their locks instead of failing.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	b, err := New(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// New creates a Backend over an open database and ensures the table exists.
func New(db *sql.DB, opts ...Option) (*Backend, error) {
	b := &Backend{
		db:       db,
		table:    "ripple_state",
		interval: DefaultInterval,
		clock:    clockz.RealClock,
	}
	for _, opt := range opts {
		opt(b)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`, b.table)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("create %s table: %w", b.table, err)
	}
	return b, nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %q WHERE key = ?`, b.table)
	err := b.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	query := fmt.Sprintf(
		`INSERT INTO %q (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		b.table,
	)
	if _, err := b.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, b.table)
	if _, err := b.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM %q ORDER BY key`, b.table))
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	return keys, nil
}

// snapshot is what a watch last observed for its key.
type snapshot struct {
	value  []byte
	exists bool
}

func (b *Backend) poll(ctx context.Context, key string) (snapshot, error) {
	value, err := b.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return snapshot{}, nil
	}
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{value: value, exists: true}, nil
}

// Watch polls key on the configured interval and emits a Change whenever
// the value differs from the previous poll. Writes that are overwritten
// within one interval are not observed.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	last, err := b.poll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", key, err)
	}

	timer := b.clock.NewTimer(b.interval)
	out := make(chan storage.Change)

	go func() {
		defer close(out)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C():
				next, err := b.poll(ctx, key)
				timer.Reset(b.interval)
				if err != nil {
					// Continue polling despite errors
					continue
				}
				if next.exists == last.exists && bytes.Equal(next.value, last.value) {
					continue
				}
				last = next

				change := storage.Change{Key: key, Value: next.value, Deleted: !next.exists}
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
