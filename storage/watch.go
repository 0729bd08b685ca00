package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/ripple"
)

// ChangeCallback receives the decoded new and previous values of a key.
// A deleted key is reported as a nil new value.
type ChangeCallback func(newValue, oldValue any)

type watchConfig struct {
	immediate bool
}

// WatchOption configures WatchExternalChange.
type WatchOption func(*watchConfig)

// WatchImmediate invokes the callback once, before WatchExternalChange
// returns, with the current value and a nil previous value.
func WatchImmediate() WatchOption {
	return func(c *watchConfig) {
		c.immediate = true
	}
}

// WatchExternalChange calls cb whenever key is changed by another writer.
// Writes made through this Storage, or any namespace view of it, are
// recognized by their payload and skipped.
//
// Callbacks after the optional immediate call run on a background goroutine.
// Hand them to a ripple.Dispatcher before touching reactive state. The
// returned handle stops the watch and discards changes still in flight.
func (s *Storage) WatchExternalChange(ctx context.Context, key string, cb ChangeCallback, opts ...WatchOption) (ripple.Dispose, error) {
	cfg := &watchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	full := s.Key(key)
	seen := s.written.last()
	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := s.backend.Watch(watchCtx, full)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", full, err)
	}

	var stopped atomic.Bool
	old := s.Load(ctx, key, nil)
	if cfg.immediate {
		s.invoke(ctx, full, cb, old, nil)
	}

	go func() {
		for change := range changes {
			if stopped.Load() {
				continue
			}
			if s.written.own(change, &seen) {
				continue
			}

			var next any
			if !change.Deleted {
				next = s.Deserialize(change.Value, nil)
			}
			capitan.Emit(watchCtx, ExternalChange,
				KeyKey.Field(full),
				KeyBytes.Field(len(change.Value)),
			)
			s.invoke(watchCtx, full, cb, next, old)
			old = next
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
		})
	}, nil
}

// invoke runs cb, recovering and reporting a panic.
func (s *Storage) invoke(ctx context.Context, key string, cb ChangeCallback, newValue, oldValue any) {
	defer func() {
		if p := recover(); p != nil {
			s.fail(ctx, WatchCallbackFailed, key, fmt.Errorf("panic: %v", p))
		}
	}()
	cb(newValue, oldValue)
}
