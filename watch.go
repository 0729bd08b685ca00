package ripple

// WatchCallback receives the new and previous values of a watched
// expression. On an immediate first call the previous value is nil.
type WatchCallback func(newValue, oldValue any) error

type watchConfig struct {
	immediate bool
	equal     func(a, b any) bool
}

// WatchOption configures a watcher.
type WatchOption func(*watchConfig)

// Immediate invokes the callback once on creation with a nil previous value.
func Immediate() WatchOption {
	return func(c *watchConfig) {
		c.immediate = true
	}
}

// WatchEquals replaces the equality used to decide whether the watched value
// changed.
func WatchEquals(fn func(a, b any) bool) WatchOption {
	return func(c *watchConfig) {
		if fn != nil {
			c.equal = fn
		}
	}
}

// Watch calls cb whenever the value under key changes. The handle is also
// tracked by the state's Registry, so Cleanup disposes it.
func (s *State) Watch(key string, cb WatchCallback, opts ...WatchOption) (Dispose, error) {
	return s.WatchFunc(func() any { return s.Get(key) }, cb, opts...)
}

// WatchFunc calls cb whenever the value returned by fn changes. Only reads
// made by fn are tracked; reads inside cb are not.
func (s *State) WatchFunc(fn func() any, cb WatchCallback, opts ...WatchOption) (Dispose, error) {
	cfg := &watchConfig{equal: s.cfg.equal}
	for _, opt := range opts {
		opt(cfg)
	}

	var (
		previous any
		started  bool
	)
	call := func(newValue, oldValue any) error {
		var err error
		Untracked(func() {
			err = cb(newValue, oldValue)
		})
		return err
	}

	e := newEffect(func() error {
		v := fn()
		if !started {
			started = true
			previous = v
			if cfg.immediate {
				return call(v, nil)
			}
			return nil
		}

		old := previous
		previous = v
		if cfg.equal(v, old) {
			return nil
		}
		return call(v, old)
	})

	err := e.run()
	return s.Registry().Track(e.dispose), err
}
