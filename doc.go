/*
Package ripple provides fine-grained reactive state: observable containers,
effects that re-run when the data they read changes, computed properties,
watchers with old and new values, and deterministic teardown.

# Basic Usage

Create a state and an effect that reads it:

	state := ripple.New(map[string]any{"count": 0})

	dispose, err := ripple.Effect(func() error {
	    fmt.Println("count:", state.Get("count"))
	    return nil
	})

Writing a changed value re-runs every effect that read the key, before the
write returns:

	state.Set("count", 5) // prints "count: 5"
	state.Set("count", 5) // equal value, nothing runs
	dispose()
	state.Set("count", 9) // nothing runs

Dependencies are discovered on every run. An effect that reads a key only
on one branch stops depending on it once the branch is no longer taken.

# Computed Properties

	state.Computed("double", func() any {
	    return state.Get("count").(int) * 2
	})

Computed values are stored on the state and can be read, watched and
depended on like any other key. Redefining a key replaces its producer.

# Watchers

	stop, err := state.Watch("count", func(newValue, oldValue any) error {
	    fmt.Println(oldValue, "->", newValue)
	    return nil
	}, ripple.Immediate())

# Teardown

Watchers and computed properties are tracked by the state's Registry:

	state.Cleanup()

Standalone effects can be gathered with a Collector or Scope.

# Concurrency

States are confined to one goroutine. Dependency tracking is kept per
goroutine, so independent states may live on different goroutines, but a
State and the effects reading it are used by one goroutine at a time. Work
produced elsewhere, such as changes observed in a storage backend, is handed
to a Dispatcher; a Loop runs it on the owning goroutine.

# Observability

ripple emits capitan signals for effect failures, runaway cascades and
disposal failures, and accepts a MetricsProvider through WithMetrics.
*/
package ripple
