// Package testing provides test utilities and helpers for ripple state and
// storage testing.
package testing

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/ripple"
	"github.com/zoobzio/ripple/pkg/memory"
	"github.com/zoobzio/ripple/storage"
)

// Settings is a standard persisted settings type for tests. Its tags are
// checked by storage.LoadInto.
type Settings struct {
	Theme    string `json:"theme" yaml:"theme" validate:"oneof=light dark"`
	FontSize int    `json:"fontSize" yaml:"fontSize" validate:"min=8,max=72"`
}

// Map returns s as the initial values of a reactive state.
func (s Settings) Map() map[string]any {
	return map[string]any{"theme": s.Theme, "fontSize": s.FontSize}
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// RequireValue fails the test immediately if key of s does not hold want.
// Nested containers are compared as plain values.
func RequireValue(t *testing.T, s *ripple.State, key string, want any) {
	t.Helper()
	if got := ripple.Plain(s.Peek(key)); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %s = %v, got %v", key, want, got)
	}
}

// Recorder collects the values an effect observed, one per run.
type Recorder struct {
	mu     sync.Mutex
	values []any
}

// Record runs fn inside an effect and records each result. The effect is
// disposed when the test ends.
func Record(t *testing.T, fn func() any) *Recorder {
	t.Helper()
	r := &Recorder{}
	dispose, err := ripple.Effect(func() error {
		v := fn()
		r.mu.Lock()
		r.values = append(r.values, v)
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("effect failed: %v", err)
	}
	t.Cleanup(dispose)
	return r
}

// Values returns every recorded value in run order.
func (r *Recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

// Runs returns how many times the effect ran.
func (r *Recorder) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Last returns the most recent value, or nil before the first run.
func (r *Recorder) Last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return nil
	}
	return r.values[len(r.values)-1]
}

// StartLoop creates a loop and runs it on its own goroutine until the test
// ends. Every state touched by dispatched work must only be read through
// the loop, or after Stop.
func StartLoop(t *testing.T, buffer int) *ripple.Loop {
	t.Helper()
	loop := ripple.NewLoop(buffer)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		loop.Close()
		<-done
	})
	return loop
}

// OnLoop runs fn on loop and waits for it to finish.
func OnLoop(t *testing.T, loop ripple.Dispatcher, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !loop.Dispatch(func() {
		defer close(done)
		fn()
	}) {
		t.Fatal("loop rejected work")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for loop")
	}
}

// NewMemoryStore returns a Storage over a fresh memory backend.
func NewMemoryStore(t *testing.T, opts ...storage.Option) (*storage.Storage, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	return storage.New(backend, opts...), backend
}

// RequireNoErrors fails the test if store recorded any failure.
func RequireNoErrors(t *testing.T, store *storage.Storage) {
	t.Helper()
	if errs := store.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected storage errors: %v", errs)
	}
}
