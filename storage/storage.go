// Package storage persists reactive state to key/value backends.
//
// A Storage wraps a Backend with a codec and an optional namespace. Every
// operation is best effort: failures are reported through capitan signals
// and the error history, and surface to callers as false or fallback
// returns rather than errors.
//
// Writes pass through a pipz pipeline that options such as WithRetry,
// WithTimeout and WithFallback extend. Reads go straight to the backend.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/ripple"
	"github.com/zoobzio/ripple/internal/ring"
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// validate is the shared validator instance.
var validate = validator.New()

// DefaultErrorHistory is how many recent failures a Storage keeps.
const DefaultErrorHistory = 16

// Change describes a mutation observed by a backend watch.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Backend is a key/value store. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key in the backend.
	Keys(ctx context.Context) ([]string, error)

	// Watch emits every change to key made after Watch returns. The channel
	// is closed when ctx is canceled or the watch cannot continue.
	Watch(ctx context.Context, key string) (<-chan Change, error)
}

// ownWrites is how many recent writes per key are remembered.
const ownWrites = 32

type ownWrite struct {
	seq    uint64
	change Change
}

// written remembers the recent payloads this instance wrote per key so that
// watches can tell their own writes apart from external ones. Each watch
// consumes a record at most once, in write order, so an external writer
// repeating an earlier payload is still reported.
type written struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string][]ownWrite
}

func (w *written) record(c Change) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	list := append(w.entries[c.Key], ownWrite{seq: w.seq, change: c})
	if len(list) > ownWrites {
		list = list[len(list)-ownWrites:]
	}
	w.entries[c.Key] = list
	return w.seq
}

// forget drops the record of a write the backend refused.
func (w *written) forget(key string, seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.entries[key]
	for i, e := range list {
		if e.seq == seq {
			w.entries[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(w.entries[key]) == 0 {
		delete(w.entries, key)
	}
}

// last returns the sequence of the most recent write.
func (w *written) last() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// own reports whether c echoes a write made after *seen, and advances *seen
// past the matched write.
func (w *written) own(c Change, seen *uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries[c.Key] {
		if e.seq <= *seen {
			continue
		}
		if e.change.Deleted == c.Deleted && bytes.Equal(e.change.Value, c.Value) {
			*seen = e.seq
			return true
		}
	}
	return false
}

// Storage reads and writes values through a Backend.
type Storage struct {
	backend   Backend
	pipeline  pipz.Chainable[*Write]
	namespace string
	codec     Codec
	errs      *ring.Ring
	written   *written
}

type config struct {
	namespace    string
	codec        Codec
	errorHistory int
	stages       []Stage
}

// Option configures a Storage.
type Option func(*config)

// WithNamespace prefixes every key with ns and a colon.
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithCodec sets the wire format. Defaults to JSONCodec.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithErrorHistory sets how many recent failures Errors retains.
// Zero disables the history.
func WithErrorHistory(n int) Option {
	return func(c *config) {
		c.errorHistory = n
	}
}

// New creates a Storage over backend. Writes and deletes pass through a
// pipeline built from the write options; reads go to the backend directly.
func New(backend Backend, opts ...Option) *Storage {
	cfg := &config{
		codec:        JSONCodec{},
		errorHistory: DefaultErrorHistory,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Storage{
		backend:   backend,
		pipeline:  buildPipeline(backendStage(backend), cfg.stages),
		namespace: cfg.namespace,
		codec:     cfg.codec,
		errs:      ring.New(cfg.errorHistory),
		written:   &written{entries: make(map[string][]ownWrite)},
	}
}

// Namespace returns a view whose keys are prefixed with ns, nested inside
// the current namespace. The view shares the backend, codec and history.
func (s *Storage) Namespace(ns string) *Storage {
	view := *s
	view.namespace = joinKey(s.namespace, ns)
	return &view
}

// Prefix returns the namespace of this view.
func (s *Storage) Prefix() string {
	return s.namespace
}

// Codec returns the codec used for values.
func (s *Storage) Codec() Codec {
	return s.codec
}

// Errors returns the most recent failures, oldest first.
func (s *Storage) Errors() []error {
	return s.errs.All()
}

func joinKey(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

// Key returns the backend key for key in this namespace.
func (s *Storage) Key(key string) string {
	return joinKey(s.namespace, key)
}

func (s *Storage) fail(ctx context.Context, signal capitan.Signal, key string, err error) {
	s.errs.Push(fmt.Errorf("%s: %w", key, err))
	capitan.Emit(ctx, signal,
		KeyKey.Field(key),
		KeyError.Field(err.Error()),
	)
}

// Serialize encodes v with the storage codec. Reactive containers are
// encoded as their plain snapshot. It returns nil when v cannot be encoded.
func (s *Storage) Serialize(v any) (data []byte) {
	defer func() {
		if p := recover(); p != nil {
			s.fail(context.Background(), SerializeFailed, "", fmt.Errorf("panic: %v", p))
			data = nil
		}
	}()
	out, err := s.codec.Marshal(ripple.Plain(v))
	if err != nil {
		s.fail(context.Background(), SerializeFailed, "", err)
		return nil
	}
	return out
}

// Deserialize decodes data, returning fallback when data is empty or
// cannot be decoded.
func (s *Storage) Deserialize(data []byte, fallback any) any {
	if len(data) == 0 {
		return fallback
	}
	var v any
	if err := s.codec.Unmarshal(data, &v); err != nil {
		s.fail(context.Background(), DeserializeFailed, "", err)
		return fallback
	}
	return v
}

// Save writes v under key and reports whether it was stored.
func (s *Storage) Save(ctx context.Context, key string, v any) bool {
	data := s.Serialize(v)
	if data == nil {
		return false
	}
	return s.write(ctx, key, data)
}

func (s *Storage) write(ctx context.Context, key string, data []byte) bool {
	full := s.Key(key)
	seq := s.written.record(Change{Key: full, Value: data})
	if _, err := s.pipeline.Process(ctx, &Write{Key: full, Value: data}); err != nil {
		s.written.forget(full, seq)
		s.fail(ctx, SaveFailed, full, cause(err))
		return false
	}
	return true
}

// Load returns the value under key, or fallback when it is missing or
// cannot be read.
func (s *Storage) Load(ctx context.Context, key string, fallback any) any {
	data, ok := s.read(ctx, key)
	if !ok {
		return fallback
	}
	return s.Deserialize(data, fallback)
}

func (s *Storage) read(ctx context.Context, key string) ([]byte, bool) {
	full := s.Key(key)
	data, err := s.backend.Get(ctx, full)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.fail(ctx, LoadFailed, full, err)
		return nil, false
	}
	return data, true
}

// LoadInto decodes the value under key into target and validates it with
// go-playground/validator struct tags. Unlike Load it returns errors, since
// the caller supplies the shape.
//
//	type Settings struct {
//	    Theme string `json:"theme" validate:"oneof=light dark"`
//	}
func (s *Storage) LoadInto(ctx context.Context, key string, target any) error {
	full := s.Key(key)
	data, err := s.backend.Get(ctx, full)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%s: %w", full, ErrNotFound)
		}
		return fmt.Errorf("failed to load %s: %w", full, err)
	}
	if err := s.codec.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", full, err)
	}
	if isStructPointer(target) {
		if err := validate.Struct(target); err != nil {
			return fmt.Errorf("validation failed for %s: %w", full, err)
		}
	}
	return nil
}

func isStructPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct
}

// Clear removes key and reports whether the backend accepted the delete.
func (s *Storage) Clear(ctx context.Context, key string) bool {
	full := s.Key(key)
	seq := s.written.record(Change{Key: full, Deleted: true})
	if _, err := s.pipeline.Process(ctx, &Write{Key: full, Delete: true}); err != nil {
		s.written.forget(full, seq)
		s.fail(ctx, ClearFailed, full, cause(err))
		return false
	}
	return true
}

// Exists reports whether key is present.
func (s *Storage) Exists(ctx context.Context, key string) bool {
	_, ok := s.read(ctx, key)
	return ok
}

// Info describes the keys visible in a namespace.
type Info struct {
	Available   bool
	Namespace   string
	ContentType string
	Keys        []string
	Size        int
}

// Info lists the keys in this namespace with the prefix stripped. Available
// is false when the backend could not be listed.
func (s *Storage) Info(ctx context.Context) Info {
	info := Info{
		Namespace:   s.namespace,
		ContentType: s.codec.ContentType(),
	}
	keys, err := s.keys(ctx)
	if err != nil {
		return info
	}
	info.Available = true
	info.Keys = keys
	info.Size = len(keys)
	return info
}

// keys lists the keys in this namespace, prefix stripped, sorted.
func (s *Storage) keys(ctx context.Context) ([]string, error) {
	all, err := s.backend.Keys(ctx)
	if err != nil {
		s.fail(ctx, LoadFailed, s.namespace, err)
		return nil, err
	}
	prefix := ""
	if s.namespace != "" {
		prefix = s.namespace + ":"
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ClearAll removes every key in this namespace and returns how many were
// removed.
func (s *Storage) ClearAll(ctx context.Context) int {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, k := range keys {
		if s.Clear(ctx, k) {
			n++
		}
	}
	return n
}
