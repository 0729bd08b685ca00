package ripple

import (
	"errors"
	"fmt"
	"strconv"
)

// lengthKey is the dep notified when a list grows or shrinks.
const lengthKey = "length"

// List is an observable slice. Element reads are tracked per index and
// length reads are tracked under "length". Like State, a List is confined to
// its owning goroutine.
type List struct {
	node
	items []any
}

// NewList creates a List holding items. Nested maps and slices are wrapped.
func NewList(items ...any) *List {
	return newList(items, newConfig(nil))
}

func newList(items []any, cfg *config) *List {
	l := &List{
		node:  newNode(cfg),
		items: make([]any, len(items)),
	}
	for i, v := range items {
		l.items[i] = wrap(v, cfg)
	}
	return l
}

func indexKey(i int) string {
	return strconv.Itoa(i)
}

// Len returns the number of elements, subscribing the active effect to
// length changes.
func (l *List) Len() int {
	l.track(lengthKey)
	return len(l.items)
}

// At returns the element at i, or nil when i is out of range. The active
// effect is subscribed to index i either way.
func (l *List) At(i int) any {
	l.track(indexKey(i))
	if i < 0 || i >= len(l.items) {
		return nil
	}
	return l.items[i]
}

// SetAt replaces the element at i.
func (l *List) SetAt(i int, v any) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: %d (length %d)", ErrIndexOutOfRange, i, len(l.items))
	}
	v = wrap(v, l.cfg)
	key := indexKey(i)
	if l.cfg.equal(l.items[i], v) {
		l.cfg.metrics.OnSet(key, false)
		return nil
	}
	l.items[i] = v
	l.cfg.metrics.OnSet(key, true)
	return l.notify(key)
}

// Append adds values to the end of the list.
func (l *List) Append(values ...any) error {
	if len(values) == 0 {
		return nil
	}
	start := len(l.items)
	for _, v := range values {
		l.items = append(l.items, wrap(v, l.cfg))
	}
	return l.notifyRange(start, len(l.items))
}

// RemoveAt deletes the element at i, shifting later elements down.
func (l *List) RemoveAt(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: %d (length %d)", ErrIndexOutOfRange, i, len(l.items))
	}
	end := len(l.items)
	copy(l.items[i:], l.items[i+1:])
	l.items[end-1] = nil
	l.items = l.items[:end-1]
	return l.notifyRange(i, end)
}

// notifyRange notifies every index in [from, to) and then the length.
func (l *List) notifyRange(from, to int) error {
	var errs []error
	for i := from; i < to; i++ {
		if err := l.notify(indexKey(i)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.notify(lengthKey); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Items returns a shallow copy of the elements. Every index and the length
// are tracked.
func (l *List) Items() []any {
	n := l.Len()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = l.At(i)
	}
	return out
}

// Snapshot returns a deep, plain copy of the list.
func (l *List) Snapshot() []any {
	items := l.Items()
	for i, v := range items {
		items[i] = Plain(v)
	}
	return items
}

// Replace makes the list match items. Elements are compared index by index,
// nested containers are merged in place, and only indexes whose value
// changed are notified.
func (l *List) Replace(items []any) error {
	var errs []error
	oldLen := len(l.items)

	for i := 0; i < len(items) && i < oldLen; i++ {
		if err := l.mergeAt(i, items[i]); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case len(items) > oldLen:
		if err := l.Append(items[oldLen:]...); err != nil {
			errs = append(errs, err)
		}
	case len(items) < oldLen:
		for i := len(items); i < oldLen; i++ {
			l.items[i] = nil
		}
		l.items = l.items[:len(items)]
		if err := l.notifyRange(len(items), oldLen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *List) mergeAt(i int, v any) error {
	switch cur := l.items[i].(type) {
	case *State:
		if m, ok := asMap(v); ok {
			return cur.Replace(m)
		}
	case *List:
		if items, ok := asSlice(v); ok {
			return cur.Replace(items)
		}
	}
	return l.SetAt(i, v)
}

// Get adapts the list to string keys: "length" returns Len and decimal keys
// return the element at that index.
func (l *List) Get(key string) any {
	if key == lengthKey {
		return l.Len()
	}
	i, err := strconv.Atoi(key)
	if err != nil {
		return nil
	}
	return l.At(i)
}

// Set adapts the list to string keys. Writing the index equal to the
// current length appends.
func (l *List) Set(key string, v any) error {
	i, err := strconv.Atoi(key)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if i == len(l.items) {
		return l.Append(v)
	}
	return l.SetAt(i, v)
}

// Ensure List implements Reactive.
var _ Reactive = (*List)(nil)
