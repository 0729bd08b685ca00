// Package postgres provides a storage.Backend for PostgreSQL that watches
// keys using LISTEN/NOTIFY on a backing table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/ripple/storage"
)

// Backend stores values in a two-column table and watches them through a
// trigger that sends the changed key as the notification payload. Call
// Setup once to create both, or create them yourself:
//
//	CREATE TABLE ripple_state (
//	    key   TEXT PRIMARY KEY,
//	    value BYTEA NOT NULL
//	);
//
//	CREATE OR REPLACE FUNCTION ripple_state_notify() RETURNS trigger AS $$
//	BEGIN
//	    IF TG_OP = 'DELETE' THEN
//	        PERFORM pg_notify('ripple_state_changed', OLD.key);
//	        RETURN OLD;
//	    END IF;
//	    PERFORM pg_notify('ripple_state_changed', NEW.key);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER ripple_state_notify
//	    AFTER INSERT OR UPDATE OR DELETE ON ripple_state
//	    FOR EACH ROW EXECUTE FUNCTION ripple_state_notify();
type Backend struct {
	pool    *pgxpool.Pool
	table   string
	channel string
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

// WithChannel sets the notification channel. Defaults to
// "ripple_state_changed".
func WithChannel(channel string) Option {
	return func(b *Backend) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// New creates a Backend over pool.
func New(pool *pgxpool.Pool, opts ...Option) *Backend {
	b := &Backend{
		pool:    pool,
		table:   "ripple_state",
		channel: "ripple_state_changed",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) ident() string {
	return pgx.Identifier{b.table}.Sanitize()
}

// Setup creates the table, notify function and trigger if they are missing.
func (b *Backend) Setup(ctx context.Context) error {
	table := b.ident()
	fn := pgx.Identifier{b.table + "_notify"}.Sanitize()
	channel := "'" + b.channel + "'"

	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify(%[3]s, OLD.key);
				RETURN OLD;
			END IF;
			PERFORM pg_notify(%[3]s, NEW.key);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[2]s ON %[1]s;
		CREATE TRIGGER %[2]s
			AFTER INSERT OR UPDATE OR DELETE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s();
	`, table, fn, channel))
	if err != nil {
		return fmt.Errorf("failed to setup schema: %w", err)
	}
	return nil
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", b.ident())
	err := b.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		b.ident(),
	)
	if _, err := b.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", b.ident())
	if _, err := b.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key in the table, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, fmt.Sprintf("SELECT key FROM %s ORDER BY key", b.ident()))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Watch listens on the notification channel on a dedicated connection and
// emits a Change whenever the trigger reports key.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// Start listening
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", b.channel, err)
	}

	out := make(chan storage.Change)

	go func() {
		defer close(out)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			// Check if notification is for our key
			if notification.Payload != key {
				continue
			}

			change := storage.Change{Key: key}
			value, err := b.Get(ctx, key)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				change.Deleted = true
			case err != nil:
				continue
			default:
				change.Value = value
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
