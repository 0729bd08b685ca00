package ripple

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Reactive is implemented by *State and *List. Reads through Get are tracked
// and writes through Set notify subscribers.
type Reactive interface {
	ID() uint64
	Get(key string) any
	Set(key string, v any) error
	Len() int
}

// State is an observable map of values. Reading a key inside an effect
// subscribes the effect to that key; writing a changed value re-runs every
// subscriber before the write returns.
//
// A State is not safe for concurrent use. All access must happen on the
// goroutine that owns it; see Loop for marshalling work onto that goroutine.
type State struct {
	node
	values   map[string]any
	order    []string
	registry *Registry
	errs     []error
}

// New creates a State holding initial. Nested maps and slices are wrapped
// recursively and share the state's options.
func New(initial map[string]any, opts ...Option) *State {
	return newState(initial, newConfig(opts))
}

func newState(initial map[string]any, cfg *config) *State {
	s := &State{
		node:   newNode(cfg),
		values: make(map[string]any, len(initial)),
	}
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.values[k] = wrap(initial[k], cfg)
		s.order = append(s.order, k)
	}
	return s
}

// Name returns the name given with WithName.
func (s *State) Name() string {
	return s.cfg.name
}

// Get returns the value stored under key, subscribing the active effect.
func (s *State) Get(key string) any {
	s.track(key)
	return s.values[key]
}

// Peek returns the value stored under key without subscribing anything.
func (s *State) Peek(key string) any {
	return s.values[key]
}

// Has reports whether key is present. The active effect is subscribed to key,
// so it re-runs when the key is added or removed.
func (s *State) Has(key string) bool {
	s.track(key)
	_, ok := s.values[key]
	return ok
}

// Keys returns the keys in insertion order. The active effect is subscribed
// to structural changes.
func (s *State) Keys() []string {
	s.track(structureKey)
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of keys. The active effect is subscribed to
// structural changes.
func (s *State) Len() int {
	s.track(structureKey)
	return len(s.order)
}

// Set stores v under key. When v is equal to the stored value nothing is
// notified. Otherwise every subscriber of key re-runs, in subscription order,
// before Set returns; their errors are joined and returned.
func (s *State) Set(key string, v any) error {
	if key == structureKey {
		return ErrInvalidKey
	}
	v = wrap(v, s.cfg)

	old, existed := s.values[key]
	if existed && s.cfg.equal(old, v) {
		s.cfg.metrics.OnSet(key, false)
		return nil
	}

	s.values[key] = v
	if !existed {
		s.order = append(s.order, key)
	}
	s.cfg.metrics.OnSet(key, true)

	err := s.notify(key)
	if !existed {
		err = errors.Join(err, s.notify(structureKey))
	}
	return err
}

// Update replaces the value under key with fn applied to the current value.
// The current value is read without tracking.
func (s *State) Update(key string, fn func(any) any) error {
	return s.Set(key, fn(s.values[key]))
}

// Delete removes key and notifies its subscribers. Deleting a missing key is
// a no-op.
func (s *State) Delete(key string) error {
	if !s.remove(key) {
		return nil
	}
	s.cfg.metrics.OnSet(key, true)
	return errors.Join(s.notify(key), s.notify(structureKey))
}

// remove drops key without notifying anyone.
func (s *State) remove(key string) bool {
	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a deep copy of the state as plain maps and slices. Every
// key is read through Get, so an effect calling Snapshot re-runs on any
// change, including changes inside nested containers.
func (s *State) Snapshot() map[string]any {
	s.track(structureKey)
	out := make(map[string]any, len(s.order))
	for _, k := range s.order {
		out[k] = Plain(s.Get(k))
	}
	return out
}

// Assign writes every key in values, merging nested containers in place so
// unchanged leaves notify nobody. Keys absent from values are kept and
// computed keys are left to their producers.
func (s *State) Assign(values map[string]any) error {
	var errs []error

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if s.isComputed(k) {
			continue
		}
		if err := s.merge(k, values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Replace makes the state match values. It behaves like Assign and then
// deletes every key missing from values, except computed keys.
func (s *State) Replace(values map[string]any) error {
	var errs []error
	if err := s.Assign(values); err != nil {
		errs = append(errs, err)
	}

	for _, k := range append([]string(nil), s.order...) {
		if _, keep := values[k]; keep || s.isComputed(k) {
			continue
		}
		if err := s.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// merge writes v under key, reusing the existing container when both sides
// have the same shape.
func (s *State) merge(key string, v any) error {
	switch cur := s.values[key].(type) {
	case *State:
		if m, ok := asMap(v); ok {
			return cur.Replace(m)
		}
	case *List:
		if items, ok := asSlice(v); ok {
			return cur.Replace(items)
		}
	}
	return s.Set(key, v)
}

func (s *State) isComputed(key string) bool {
	return s.registry != nil && s.registry.HasComputed(key)
}

// Decode copies the state into target, which is typically a pointer to a
// struct with json tags.
func (s *State) Decode(target any) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

// Err returns the errors collected from Computed definitions, joined.
func (s *State) Err() error {
	return errors.Join(s.errs...)
}

// Ensure State implements Reactive.
var _ Reactive = (*State)(nil)
