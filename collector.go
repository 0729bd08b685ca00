package ripple

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Collector gathers disposal handles that are not tied to a state, such as
// standalone effects, and releases them together.
type Collector struct {
	handles  []Dispose
	disposed bool
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a handle. Once the collector has been cleaned up, new handles
// are rejected and left to the caller.
func (c *Collector) Add(d Dispose) *Collector {
	if c.disposed {
		capitan.Emit(context.Background(), CollectorRejected)
		return c
	}
	if d != nil {
		c.handles = append(c.handles, d)
	}
	return c
}

// Cleanup disposes every collected handle in the order added. Panicking
// handles are reported and skipped. Subsequent calls are no-ops.
func (c *Collector) Cleanup() {
	if c.disposed {
		return
	}
	c.disposed = true
	handles := c.handles
	c.handles = nil
	for _, d := range handles {
		if err := safeDispose(d); err != nil {
			capitan.Emit(context.Background(), RegistryDisposeFailed,
				KeyError.Field(err.Error()),
			)
		}
	}
}

// Len returns the number of handles awaiting cleanup.
func (c *Collector) Len() int {
	return len(c.handles)
}

// Disposed reports whether Cleanup has run.
func (c *Collector) Disposed() bool {
	return c.disposed
}

// Scope runs fn with a collect function and returns a handle that disposes
// everything collected.
//
//	stop := ripple.Scope(func(collect func(ripple.Dispose)) {
//	    d, _ := ripple.Effect(render)
//	    collect(d)
//	})
//	defer stop()
func Scope(fn func(collect func(Dispose))) Dispose {
	c := NewCollector()
	fn(func(d Dispose) { c.Add(d) })
	return c.Cleanup
}
