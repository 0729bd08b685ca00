package ripple

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/ripple/internal/ring"
)

// Registry collects the disposal handles of a state's watchers and computed
// properties so they can be released with one call. It references the
// handles; callers that created them may still dispose them directly.
type Registry struct {
	name     string
	metrics  MetricsProvider
	handles  []*handle
	computed map[string]Dispose
	keys     []string
	errs     *ring.Ring
}

type handle struct {
	dispose Dispose
}

func newRegistry(cfg *config) *Registry {
	return &Registry{
		name:     cfg.name,
		metrics:  cfg.metrics,
		computed: make(map[string]Dispose),
		errs:     ring.New(cfg.errorHistory),
	}
}

// Registry returns the state's cleanup registry, creating it on first use.
// A state has exactly one registry for its lifetime.
func (s *State) Registry() *Registry {
	if s.registry == nil {
		s.registry = newRegistry(s.cfg)
	}
	return s.registry
}

// Cleanup disposes every watcher and computed property registered on the
// state. Calling it again is a no-op.
func (s *State) Cleanup() {
	if s.registry == nil {
		return
	}
	s.registry.DisposeAll()
}

// Track appends a handle. The returned Dispose removes it from the registry
// before calling d, so a handle released directly no longer counts toward
// Len. Track(nil) returns nil.
func (r *Registry) Track(d Dispose) Dispose {
	if d == nil {
		return nil
	}
	h := &handle{dispose: d}
	r.handles = append(r.handles, h)
	return func() {
		r.untrack(h)
		d()
	}
}

func (r *Registry) untrack(h *handle) {
	for i, x := range r.handles {
		if x == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			return
		}
	}
}

// TrackComputed stores the handle for a computed key. A handle already
// stored under key is disposed first.
func (r *Registry) TrackComputed(key string, d Dispose) {
	if prev, ok := r.computed[key]; ok {
		delete(r.computed, key)
		r.removeKey(key)
		r.call(prev)
	}
	if d == nil {
		return
	}
	r.computed[key] = d
	r.keys = append(r.keys, key)
}

func (r *Registry) removeKey(key string) {
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			return
		}
	}
}

// HasComputed reports whether key is driven by a computed property.
func (r *Registry) HasComputed(key string) bool {
	_, ok := r.computed[key]
	return ok
}

// Len returns the number of handles awaiting disposal.
func (r *Registry) Len() int {
	return len(r.handles) + len(r.computed)
}

// Errors returns the most recent disposal failures, oldest first.
func (r *Registry) Errors() []error {
	return r.errs.All()
}

// DisposeAll calls every tracked handle exactly once, watchers first and then
// computed properties, each in the order they were tracked. A handle that
// panics is recorded and reported; the remaining handles still run. Both
// collections are empty afterwards, so a second call does nothing.
func (r *Registry) DisposeAll() {
	handles := r.handles
	keys := r.keys
	computed := r.computed
	r.handles = nil
	r.keys = nil
	r.computed = make(map[string]Dispose)

	for _, h := range handles {
		r.call(h.dispose)
	}
	for _, k := range keys {
		r.call(computed[k])
	}

	if n := len(handles) + len(keys); n > 0 {
		capitan.Emit(context.Background(), RegistryDrained,
			KeyState.Field(r.name),
			KeyCount.Field(n),
		)
	}
}

// call runs d, converting a panic into a recorded failure.
func (r *Registry) call(d Dispose) {
	if err := safeDispose(d); err != nil {
		r.errs.Push(err)
		r.metrics.OnDisposeFailure(err)
		capitan.Emit(context.Background(), RegistryDisposeFailed,
			KeyState.Field(r.name),
			KeyError.Field(err.Error()),
		)
	}
}

func safeDispose(d Dispose) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ripple: dispose panicked: %v", p)
		}
	}()
	d()
	return nil
}
