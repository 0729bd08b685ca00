package ripple

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// structureKey is the dep notified when keys are added or removed. It cannot
// collide with user keys because those are never empty.
const structureKey = ""

var idCounter uint64

// nextID returns the next process-unique identity for states and effects.
func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// dep is the subscriber list for one key of one container. Order is the
// order in which effects first read the key during their latest run.
type dep struct {
	owner uint64
	key   string
	subs  []*effect
}

// subscribe appends e unless it is already present. It reports whether e
// was added.
func (d *dep) subscribe(e *effect) bool {
	for _, s := range d.subs {
		if s == e {
			return false
		}
	}
	d.subs = append(d.subs, e)
	return true
}

// unsubscribe removes e while keeping the remaining order intact.
func (d *dep) unsubscribe(e *effect) {
	for i, s := range d.subs {
		if s == e {
			copy(d.subs[i:], d.subs[i+1:])
			d.subs[len(d.subs)-1] = nil
			d.subs = d.subs[:len(d.subs)-1]
			return
		}
	}
}

// subscribers returns a copy so effects may resubscribe while the caller
// iterates.
func (d *dep) subscribers() []*effect {
	out := make([]*effect, len(d.subs))
	copy(out, d.subs)
	return out
}

// node is the bookkeeping shared by State and List: identity, per-key
// subscriber lists and configuration inherited by nested containers.
type node struct {
	id   uint64
	cfg  *config
	deps map[string]*dep
}

func newNode(cfg *config) node {
	return node{
		id:   nextID(),
		cfg:  cfg,
		deps: make(map[string]*dep),
	}
}

// ID returns the container identity.
func (n *node) ID() uint64 {
	return n.id
}

// track registers a read of key with the active effect.
func (n *node) track(key string) {
	t := lookup()
	if t.active() == nil {
		return
	}
	d, ok := n.deps[key]
	if !ok {
		d = &dep{owner: n.id, key: key}
		n.deps[key] = d
	}
	t.registerRead(d)
}

// notify re-runs every subscriber of key in subscription order. All
// subscribers run even when one fails; failures are joined.
func (n *node) notify(key string) error {
	d, ok := n.deps[key]
	if !ok || len(d.subs) == 0 {
		return nil
	}
	subs := d.subscribers()
	start := n.cfg.clock.Now()

	var errs []error
	for _, e := range subs {
		if err := e.run(); err != nil {
			errs = append(errs, err)
		}
	}

	elapsed := n.cfg.clock.Since(start)
	n.cfg.metrics.OnNotify(key, len(subs), elapsed)
	err := errors.Join(errs...)
	if err != nil {
		capitan.Emit(context.Background(), NotifyFailed,
			KeyState.Field(n.cfg.name),
			KeyKey.Field(key),
			KeyCount.Field(len(subs)),
			KeyDuration.Field(elapsed),
			KeyError.Field(err.Error()),
		)
	}
	return err
}

// subscriberCount reports how many effects currently depend on key.
func (n *node) subscriberCount(key string) int {
	if d, ok := n.deps[key]; ok {
		return len(d.subs)
	}
	return 0
}
