package storage

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/ripple"
)

// DefaultDebounce is how long AutoSave waits after the last Save before
// writing.
const DefaultDebounce = 300 * time.Millisecond

// AutoSave writes one key on a debounce: a burst of Save calls produces a
// single write of the last value once the key has been quiet for the
// debounce duration.
type AutoSave struct {
	store    *Storage
	key      string
	ctx      context.Context
	debounce time.Duration
	clock    clockz.Clock
	onSave   func(any)
	onLoad   func(any)

	mu         sync.Mutex
	timer      clockz.Timer
	pending    any
	hasPending bool
	stopped    bool
	disposed   bool

	armed chan struct{}
	done  chan struct{}
}

// AutoSaveOption configures an AutoSave.
type AutoSaveOption func(*AutoSave)

// Debounce sets the quiet period before a pending value is written.
func Debounce(d time.Duration) AutoSaveOption {
	return func(a *AutoSave) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// Clock sets the clock driving the debounce timer.
// Use this with clockz.FakeClock for deterministic tests.
func Clock(clock clockz.Clock) AutoSaveOption {
	return func(a *AutoSave) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// OnSave is called with every value written. Debounced writes call it from
// the timer goroutine.
func OnSave(fn func(any)) AutoSaveOption {
	return func(a *AutoSave) {
		a.onSave = fn
	}
}

// OnLoad is called with every value returned by Load.
func OnLoad(fn func(any)) AutoSaveOption {
	return func(a *AutoSave) {
		a.onLoad = fn
	}
}

// AutoSave returns a debounced writer for key. Call Dispose to release its
// timer goroutine.
func (s *Storage) AutoSave(ctx context.Context, key string, opts ...AutoSaveOption) *AutoSave {
	a := &AutoSave{
		store:    s,
		key:      key,
		ctx:      ctx,
		debounce: DefaultDebounce,
		clock:    clockz.RealClock,
		armed:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

func (a *AutoSave) loop() {
	for {
		a.mu.Lock()
		var timerC <-chan time.Time
		if a.timer != nil {
			timerC = a.timer.C()
		}
		a.mu.Unlock()

		select {
		case <-a.done:
			return
		case <-a.armed:
		case <-timerC:
			a.Flush()
		}
	}
}

// Save schedules v to be written after the debounce, replacing any value
// still pending. Reactive containers are captured as plain snapshots now,
// on the calling goroutine.
func (a *AutoSave) Save(v any) {
	v = ripple.Plain(v)

	a.mu.Lock()
	if a.stopped || a.disposed {
		a.mu.Unlock()
		return
	}
	a.pending = v
	a.hasPending = true
	a.arm()
	a.mu.Unlock()

	select {
	case a.armed <- struct{}{}:
	default:
	}
}

// arm starts or restarts the debounce timer. Caller holds mu.
func (a *AutoSave) arm() {
	if a.timer == nil {
		a.timer = a.clock.NewTimer(a.debounce)
		return
	}
	if !a.timer.Stop() {
		select {
		case <-a.timer.C():
		default:
		}
	}
	a.timer.Reset(a.debounce)
}

// cancel drops the pending value and stops the timer. Caller holds mu.
func (a *AutoSave) cancel() {
	a.pending = nil
	a.hasPending = false
	if a.timer != nil {
		a.timer.Stop()
	}
}

// SaveNow writes v immediately, discarding any pending value.
func (a *AutoSave) SaveNow(v any) bool {
	v = ripple.Plain(v)

	a.mu.Lock()
	if a.stopped || a.disposed {
		a.mu.Unlock()
		return false
	}
	a.cancel()
	a.mu.Unlock()

	return a.write(v)
}

// Flush writes the pending value now. It reports false when nothing was
// pending or the write failed.
func (a *AutoSave) Flush() bool {
	a.mu.Lock()
	if !a.hasPending || a.disposed {
		a.mu.Unlock()
		return false
	}
	v := a.pending
	a.cancel()
	a.mu.Unlock()

	return a.write(v)
}

func (a *AutoSave) write(v any) bool {
	if !a.store.Save(a.ctx, a.key, v) {
		return false
	}
	capitan.Emit(a.ctx, AutoSaveFlushed,
		KeyKey.Field(a.store.Key(a.key)),
		KeyDebounce.Field(a.debounce),
	)
	if a.onSave != nil {
		a.onSave(v)
	}
	return true
}

// Load reads the stored value, or fallback when missing. A stopped
// AutoSave returns fallback without reading.
func (a *AutoSave) Load(fallback any) any {
	if a.Stopped() {
		return fallback
	}
	v := a.store.Load(a.ctx, a.key, fallback)
	if a.onLoad != nil {
		a.onLoad(v)
	}
	return v
}

// Clear drops any pending value and removes the key.
func (a *AutoSave) Clear() bool {
	a.mu.Lock()
	a.cancel()
	a.mu.Unlock()
	return a.store.Clear(a.ctx, a.key)
}

// Stop drops any pending value and ignores Save and SaveNow until Start.
func (a *AutoSave) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel()
	a.stopped = true
}

// Start resumes saving after Stop. It has no effect after Dispose.
func (a *AutoSave) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.disposed {
		a.stopped = false
	}
}

// Stopped reports whether saving is suspended.
func (a *AutoSave) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Pending reports whether a debounced write is waiting.
func (a *AutoSave) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasPending
}

// Dispose cancels any pending write and stops the timer goroutine. The
// pending value is never written. Calling Dispose again is a no-op.
func (a *AutoSave) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	a.stopped = true
	a.cancel()
	a.mu.Unlock()
	close(a.done)
}
