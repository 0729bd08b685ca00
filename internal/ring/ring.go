// Package ring keeps a bounded history of recent errors.
package ring

import "sync"

// Ring keeps the most recent failures of best-effort operations that are
// reported but never returned to a caller. It is safe for concurrent use.
type Ring struct {
	mu     sync.RWMutex
	errors []error
	size   int
	head   int
	count  int
}

// New creates a ring holding up to size errors.
// If size is 0, the ring is disabled and all methods are no-ops.
func New(size int) *Ring {
	if size <= 0 {
		return nil
	}
	return &Ring{
		errors: make([]error, size),
		size:   size,
	}
}

// Push records err, overwriting the oldest entry when full.
func (r *Ring) Push(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors[r.head] = err
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Len returns how many errors are held.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// All returns the recorded errors, oldest first.
func (r *Ring) All() []error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]error, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.errors[(start+i)%r.size]
	}
	return result
}
