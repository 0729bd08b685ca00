package ripple

import (
	"github.com/zoobzio/clockz"
)

// DefaultErrorHistory is how many recent disposal failures a Registry keeps.
const DefaultErrorHistory = 16

// config holds configuration shared by a State and every container nested
// inside it.
type config struct {
	name         string
	equal        func(a, b any) bool
	clock        clockz.Clock
	metrics      MetricsProvider
	errorHistory int
}

// Option configures a State.
type Option func(*config)

func newConfig(opts []Option) *config {
	cfg := &config{
		equal:        Equal,
		clock:        clockz.RealClock,
		metrics:      NoOpMetricsProvider{},
		errorHistory: DefaultErrorHistory,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cfg)
	}
	return cfg
}

// WithName labels the state in emitted events.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithEquals replaces the equality used to decide whether a write changed a
// value. Writes the function reports as equal notify nobody.
func WithEquals(fn func(a, b any) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.equal = fn
		}
	}
}

// WithClock sets the clock used to time notification passes.
// Use this with clockz.FakeClock for deterministic metrics in tests.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics sets a metrics provider for observability integration.
func WithMetrics(provider MetricsProvider) Option {
	return func(c *config) {
		if provider != nil {
			c.metrics = provider
		}
	}
}

// WithErrorHistory sets how many recent disposal failures the state's
// Registry retains. Zero disables the history.
func WithErrorHistory(n int) Option {
	return func(c *config) {
		c.errorHistory = n
	}
}
