package storage

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/ripple"
)

type bindConfig struct {
	autosave   []AutoSaveOption
	dispatcher ripple.Dispatcher
}

// BindOption configures Bind.
type BindOption func(*bindConfig)

// WithAutoSave passes options to the binding's AutoSave.
func WithAutoSave(opts ...AutoSaveOption) BindOption {
	return func(c *bindConfig) {
		c.autosave = append(c.autosave, opts...)
	}
}

// SyncExternal mirrors changes made by other writers back into the state.
// Each change is applied through d, which must run it on the goroutine that
// owns the state.
func SyncExternal(d ripple.Dispatcher) BindOption {
	return func(c *bindConfig) {
		c.dispatcher = d
	}
}

// Binding keeps a state and a stored key in step.
type Binding struct {
	state    *ripple.State
	auto     *AutoSave
	stop     ripple.Dispose
	unwatch  ripple.Dispose
	release  ripple.Dispose
	applying bool
	closed   bool
}

// Bind loads the snapshot stored under key into state and saves the state
// back, debounced, whenever any key in it changes. The binding is tracked by
// the state's cleanup registry, so state.Cleanup closes it.
//
//	loop := ripple.NewLoop(64)
//	b, err := storage.Bind(ctx, state, store, "settings",
//	    storage.WithAutoSave(storage.Debounce(time.Second)),
//	    storage.SyncExternal(loop),
//	)
func Bind(ctx context.Context, state *ripple.State, store *Storage, key string, opts ...BindOption) (*Binding, error) {
	cfg := &bindConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &Binding{
		state: state,
		auto:  store.AutoSave(ctx, key, cfg.autosave...),
	}

	if stored, ok := b.auto.Load(nil).(map[string]any); ok {
		if err := state.Assign(stored); err != nil {
			b.auto.Dispose()
			return nil, fmt.Errorf("failed to restore %s: %w", store.Key(key), err)
		}
	}

	first := true
	stop, err := ripple.Effect(func() error {
		snapshot := state.Snapshot()
		if first || b.applying {
			first = false
			return nil
		}
		b.auto.Save(snapshot)
		return nil
	})
	b.stop = stop
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to track %s: %w", store.Key(key), err)
	}

	if cfg.dispatcher != nil {
		unwatch, err := store.WatchExternalChange(ctx, key, func(newValue, _ any) {
			values, ok := newValue.(map[string]any)
			if !ok {
				return
			}
			cfg.dispatcher.Dispatch(func() {
				b.apply(ctx, values)
			})
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.unwatch = unwatch
	}

	b.release = state.Registry().Track(b.close)
	return b, nil
}

// apply replaces the state with an external snapshot without echoing it
// back to the store.
func (b *Binding) apply(ctx context.Context, values map[string]any) {
	if b.closed {
		return
	}
	b.applying = true
	defer func() { b.applying = false }()

	if err := b.state.Replace(values); err != nil {
		capitan.Emit(ctx, BindFailed,
			KeyKey.Field(b.auto.store.Key(b.auto.key)),
			KeyError.Field(err.Error()),
		)
	}
}

// AutoSave returns the binding's debounced writer.
func (b *Binding) AutoSave() *AutoSave {
	return b.auto
}

// Flush writes any pending snapshot now.
func (b *Binding) Flush() bool {
	return b.auto.Flush()
}

// Close stops tracking and watching, writes any pending snapshot, and
// releases the AutoSave. Calling Close again is a no-op.
func (b *Binding) Close() {
	if b.release != nil {
		b.release()
		return
	}
	b.close()
}

func (b *Binding) close() {
	if b.closed {
		return
	}
	b.closed = true
	if b.stop != nil {
		b.stop()
	}
	if b.unwatch != nil {
		b.unwatch()
	}
	b.auto.Flush()
	b.auto.Dispose()
}
