package ripple

import "github.com/zoobzio/capitan"

// Field keys for ripple events.
var (
	// KeyState is the name given to a state with WithName.
	KeyState = capitan.NewStringKey("state")

	// KeyKey is the state key involved in the event.
	KeyKey = capitan.NewStringKey("key")

	// KeyEffect is the identity of the effect involved in the event.
	KeyEffect = capitan.NewIntKey("effect")

	// KeyDepth is the tracker depth at the time of the event.
	KeyDepth = capitan.NewIntKey("depth")

	// KeyCount is the number of handles released by a drain, or of effects
	// notified.
	KeyCount = capitan.NewIntKey("count")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDuration is how long the operation took.
	KeyDuration = capitan.NewDurationKey("duration")
)
