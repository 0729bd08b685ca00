package ripple

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
)

// Computed defines key as a derived property kept current by fn. The value
// is stored on the state like any other key, so it can be read, watched and
// depended on. Defining the same key again disposes the previous definition
// first, so exactly one producer drives a key at any time.
//
// Computed returns the state for chaining. Errors from the first evaluation
// are collected and reported by Err.
//
//	s := ripple.New(map[string]any{"price": 10, "qty": 2})
//	s.Computed("total", func() any {
//	    return s.Get("price").(int) * s.Get("qty").(int)
//	})
func (s *State) Computed(key string, fn func() any) *State {
	if key == structureKey || fn == nil {
		s.errs = append(s.errs, fmt.Errorf("computed %q: %w", key, ErrInvalidKey))
		return s
	}

	e := newEffect(func() error {
		return s.Set(key, fn())
	})

	// Registering first disposes any earlier definition of key before the new
	// producer runs.
	s.Registry().TrackComputed(key, func() {
		e.dispose()
		s.remove(key)
	})

	if err := e.run(); err != nil {
		err = fmt.Errorf("computed %q: %w", key, err)
		s.errs = append(s.errs, err)
		capitan.Emit(context.Background(), ComputedFailed,
			KeyState.Field(s.cfg.name),
			KeyKey.Field(key),
			KeyError.Field(err.Error()),
		)
	}
	return s
}
