package ripple

import (
	"fmt"
	"runtime"
	"sync"
)

// MaxDepth bounds how many effect runs may be nested on the tracker stack.
// A cascade deeper than this is almost always an effect that writes a key it
// also reads, so the run fails with ErrMaxDepth instead of overflowing.
var MaxDepth = 100

// tracker records which effect is currently running. Reads consult the top
// of the stack to discover who is reading them. A nil frame means reads are
// untracked.
//
// Each goroutine has its own stack, so states owned by different goroutines
// never see each other's effects. Anything outside this file that wants
// tracking must go through run, untracked or registerRead.
type tracker struct {
	gid   uint64
	stack []*effect
}

// trackers holds the stack of every goroutine currently running an effect.
// Entries are removed when their stack empties.
var trackers sync.Map

// goroutineID parses the calling goroutine's ID from the header of its stack
// trace, which starts with "goroutine <id> ".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// current returns the tracker of the calling goroutine, creating it on
// first use.
func current() *tracker {
	gid := goroutineID()
	if t, ok := trackers.Load(gid); ok {
		return t.(*tracker)
	}
	t := &tracker{gid: gid}
	trackers.Store(gid, t)
	return t
}

// lookup returns the tracker of the calling goroutine, or nil when it is not
// running any effect.
func lookup() *tracker {
	if t, ok := trackers.Load(goroutineID()); ok {
		return t.(*tracker)
	}
	return nil
}

// active returns the effect on top of the stack, or nil.
func (t *tracker) active() *effect {
	if t == nil || len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

// depth returns the number of frames on the stack.
func (t *tracker) depth() int {
	if t == nil {
		return 0
	}
	return len(t.stack)
}

// push installs e as the active computation and returns a func that restores
// the previous frame. The restore must run even when fn panics.
func (t *tracker) push(e *effect) func() {
	t.stack = append(t.stack, e)
	n := len(t.stack)
	return func() {
		t.stack[n-1] = nil
		t.stack = t.stack[:n-1]
		if len(t.stack) == 0 {
			trackers.Delete(t.gid)
		}
	}
}

// run executes fn with e as the active computation.
func (t *tracker) run(e *effect, fn func() error) error {
	if len(t.stack) >= MaxDepth {
		return fmt.Errorf("%w: effect %d at depth %d", ErrMaxDepth, e.id, len(t.stack))
	}
	restore := t.push(e)
	defer restore()
	return fn()
}

// untracked executes fn with tracking suspended.
func (t *tracker) untracked(fn func()) {
	restore := t.push(nil)
	defer restore()
	fn()
}

// registerRead subscribes the active effect to d. It is a no-op when no
// effect is running.
func (t *tracker) registerRead(d *dep) {
	e := t.active()
	if e == nil || e.disposed {
		return
	}
	if d.subscribe(e) {
		e.addSource(d)
	}
}

// Untracked runs fn without recording any reads as dependencies.
//
//	ripple.Effect(func() error {
//	    total := state.Get("total")           // tracked
//	    ripple.Untracked(func() {
//	        log.Println(state.Get("label"))   // not tracked
//	    })
//	    return nil
//	})
func Untracked(fn func()) {
	current().untracked(fn)
}
