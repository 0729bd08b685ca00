package ripple

import "github.com/zoobzio/capitan"

// Effect lifecycle signals.
var (
	// EffectFailed is emitted when an effect body returns an error.
	EffectFailed = capitan.NewSignal(
		"ripple.effect.failed",
		"Effect run failed",
	)

	// EffectOverflow is emitted when a cascade exceeds MaxDepth.
	EffectOverflow = capitan.NewSignal(
		"ripple.effect.overflow",
		"Effect cascade exceeded maximum depth",
	)

	// NotifyFailed is emitted when one or more effects fail while a key
	// notifies its subscribers. It carries the subscriber count and how long
	// the notification took.
	NotifyFailed = capitan.NewSignal(
		"ripple.notify.failed",
		"Notification had failing effects",
	)

	// ComputedFailed is emitted when a computed property cannot store its value.
	ComputedFailed = capitan.NewSignal(
		"ripple.computed.failed",
		"Computed property failed",
	)
)

// Teardown signals.
var (
	// RegistryDisposeFailed is emitted when a tracked disposal handle panics
	// during DisposeAll. The remaining handles still run.
	RegistryDisposeFailed = capitan.NewSignal(
		"ripple.registry.dispose.failed",
		"Disposal handle failed",
	)

	// RegistryDrained is emitted after DisposeAll released at least one handle.
	RegistryDrained = capitan.NewSignal(
		"ripple.registry.drained",
		"Cleanup registry drained",
	)

	// CollectorRejected is emitted when a handle is added to a collector that
	// has already been cleaned up. The handle is not stored or called; the
	// caller still owns it.
	CollectorRejected = capitan.NewSignal(
		"ripple.collector.rejected",
		"Handle added after cleanup",
	)
)
