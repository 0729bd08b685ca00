package ripple

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key runtime events.
type MetricsProvider interface {
	// OnSet is called for every write. Changed is false when the write was
	// dropped because the value was equal to the stored one.
	OnSet(key string, changed bool)

	// OnNotify is called after a notification pass re-ran the subscribers of key.
	OnNotify(key string, subscribers int, duration time.Duration)

	// OnDisposeFailure is called when a disposal handle fails during cleanup.
	OnDisposeFailure(err error)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnSet(_ string, _ bool)                    {}
func (NoOpMetricsProvider) OnNotify(_ string, _ int, _ time.Duration) {}
func (NoOpMetricsProvider) OnDisposeFailure(_ error)                  {}
