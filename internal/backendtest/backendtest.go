// Package backendtest checks that a storage.Backend honors the contract the
// storage package relies on. Backend packages call Run from their tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/ripple/storage"
)

// Timeout bounds how long a watch may take to report a change.
var Timeout = 5 * time.Second

var seq int

// key returns a key unique within the process so subtests never collide on
// shared servers.
func key(name string) string {
	seq++
	return fmt.Sprintf("ripple-%s-%d-%d", name, time.Now().UnixNano(), seq)
}

// Run exercises b. newKey may be nil; backends with key syntax restrictions
// pass a function mapping a base name to a valid key.
func Run(t *testing.T, b storage.Backend, newKey func(string) string) {
	t.Helper()
	if newKey == nil {
		newKey = key
	}

	t.Run("GetMissing", func(t *testing.T) {
		_, err := b.Get(context.Background(), newKey("missing"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		ctx := context.Background()
		k := newKey("set")
		if err := b.Set(ctx, k, []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := b.Set(ctx, k, []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := b.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `{"v":2}` {
			t.Errorf("expected overwritten value, got %q", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		k := newKey("delete")
		if err := b.Set(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := b.Delete(ctx, k); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := b.Get(ctx, k); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := b.Delete(ctx, k); err != nil {
			t.Errorf("deleting a missing key must succeed, got %v", err)
		}
	})

	t.Run("Keys", func(t *testing.T) {
		ctx := context.Background()
		k := newKey("keys")
		if err := b.Set(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		keys, err := b.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		t.Errorf("expected %q in %v", k, keys)
	})

	t.Run("WatchSetAndDelete", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		k := newKey("watch")

		ch, err := b.Watch(ctx, k)
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}

		if err := b.Set(ctx, k, []byte("first")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		expect(t, ch, func(c storage.Change) bool {
			return !c.Deleted && string(c.Value) == "first"
		})

		if err := b.Delete(ctx, k); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		expect(t, ch, func(c storage.Change) bool {
			return c.Deleted
		})
	})

	t.Run("WatchIgnoresOtherKeys", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mine, other := newKey("mine"), newKey("other")

		ch, err := b.Watch(ctx, mine)
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
		if err := b.Set(ctx, other, []byte("x")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := b.Set(ctx, mine, []byte("y")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		select {
		case c := <-ch:
			if c.Key != mine || string(c.Value) != "y" {
				t.Errorf("unexpected change %+v", c)
			}
		case <-time.After(Timeout):
			t.Fatal("timeout waiting for change")
		}
	})

	t.Run("WatchClosesOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := b.Watch(ctx, newKey("cancel"))
		if err != nil {
			cancel()
			t.Fatalf("Watch() error = %v", err)
		}
		cancel()

		deadline := time.After(Timeout)
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("timeout waiting for channel close")
			}
		}
	})
}

// expect reads changes until one satisfies match.
func expect(t *testing.T, ch <-chan storage.Change, match func(storage.Change) bool) {
	t.Helper()
	deadline := time.After(Timeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatal("watch closed early")
			}
			if match(c) {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for change")
		}
	}
}
