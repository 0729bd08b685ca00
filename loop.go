package ripple

import (
	"context"
	"sync"
)

// Dispatcher runs functions on the goroutine that owns a set of states.
// Producers on other goroutines, such as storage watchers, hand their work to
// a Dispatcher instead of touching state directly.
type Dispatcher interface {
	// Dispatch schedules fn. It reports false when fn was not accepted.
	Dispatch(fn func()) bool
}

// Inline is a Dispatcher that runs fn immediately on the calling goroutine.
// Use it only when the caller already owns the states involved.
type Inline struct{}

// Dispatch runs fn and reports true.
func (Inline) Dispatch(fn func()) bool {
	fn()
	return true
}

// Loop is the single cooperative timeline on which reactive work runs. Any
// goroutine may Dispatch; only the goroutine calling Run or Drain executes.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop whose queue holds up to buffer pending functions.
// Dispatch blocks when the queue is full.
func NewLoop(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	return &Loop{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Dispatch queues fn. It reports false once the loop is closed.
func (l *Loop) Dispatch(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run executes queued functions until ctx is canceled or the loop is closed.
// It returns ctx.Err() on cancellation and nil on Close.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// Drain executes every function currently queued without waiting for more
// and returns how many ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case fn := <-l.queue:
			fn()
			n++
		default:
			return n
		}
	}
}

// Close stops the loop. Pending functions are discarded unless drained.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.done)
	})
}

var (
	_ Dispatcher = Inline{}
	_ Dispatcher = (*Loop)(nil)
)
