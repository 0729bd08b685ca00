package ripple

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
)

// Dispose permanently stops a computation. Calling it more than once is a
// no-op.
type Dispose func()

// effect is a computation re-run whenever a key it read during its most
// recent run changes.
type effect struct {
	id       uint64
	fn       func() error
	sources  []*dep
	disposed bool
}

func newEffect(fn func() error) *effect {
	if fn == nil {
		fn = func() error { return nil }
	}
	return &effect{
		id: nextID(),
		fn: fn,
	}
}

func (e *effect) addSource(d *dep) {
	e.sources = append(e.sources, d)
}

// clearSources detaches e from every dep it read so the next run discovers
// its dependencies from scratch.
func (e *effect) clearSources() {
	for i, d := range e.sources {
		d.unsubscribe(e)
		e.sources[i] = nil
	}
	e.sources = e.sources[:0]
}

// run executes the body unless the effect was disposed. The disposed flag is
// read here, at call time, so a notification already in flight on the same
// cascade is skipped. A run refused for depth keeps its subscriptions, so
// the effect still reacts to later writes.
func (e *effect) run() error {
	if e.disposed {
		return nil
	}

	t := current()
	depth := t.depth()
	if depth >= MaxDepth {
		capitan.Emit(context.Background(), EffectOverflow,
			KeyEffect.Field(int(e.id)),
			KeyDepth.Field(depth),
		)
		return fmt.Errorf("%w: effect %d at depth %d", ErrMaxDepth, e.id, depth)
	}

	e.clearSources()
	err := t.run(e, e.fn)
	if err != nil && depth == 0 && !errors.Is(err, ErrMaxDepth) {
		capitan.Emit(context.Background(), EffectFailed,
			KeyEffect.Field(int(e.id)),
			KeyError.Field(err.Error()),
		)
	}
	return err
}

func (e *effect) dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	e.clearSources()
}

// Effect runs fn immediately and again whenever any key it read during its
// latest run changes. Errors from the first run are returned alongside the
// handle; the effect stays live either way. Errors from later runs are
// returned to the write that triggered them.
//
//	dispose, err := ripple.Effect(func() error {
//	    fmt.Println("count is", state.Get("count"))
//	    return nil
//	})
func Effect(fn func() error) (Dispose, error) {
	e := newEffect(fn)
	err := e.run()
	return e.dispose, err
}
