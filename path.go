package ripple

import (
	"fmt"
	"strings"
)

// GetPath resolves a dot-separated path such as "user.addresses.0.city"
// starting from r. Every container visited is read through Get, so the
// active effect subscribes to each segment.
func GetPath(r Reactive, path string) (any, error) {
	segments := strings.Split(path, ".")
	var cur any = r
	for i, seg := range segments {
		c, ok := cur.(Reactive)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotContainer, strings.Join(segments[:i], "."))
		}
		if s, isState := c.(*State); isState && !s.Has(seg) {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(segments[:i+1], "."))
		}
		cur = c.Get(seg)
	}
	return cur, nil
}

// SetPath writes v at a dot-separated path. Intermediate containers must
// already exist; only the final segment is written.
func SetPath(r Reactive, path string, v any) error {
	segments := strings.Split(path, ".")
	parent := strings.Join(segments[:len(segments)-1], ".")

	target := r
	if parent != "" {
		var (
			obj any
			err error
		)
		Untracked(func() {
			obj, err = GetPath(r, parent)
		})
		if err != nil {
			return err
		}
		c, ok := obj.(Reactive)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotContainer, parent)
		}
		target = c
	}
	return target.Set(segments[len(segments)-1], v)
}
