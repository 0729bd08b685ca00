package storage

import "github.com/zoobzio/capitan"

// Storage operation signals.
var (
	// SaveFailed is emitted when a value could not be written to the backend.
	SaveFailed = capitan.NewSignal(
		"ripple.storage.save.failed",
		"Storage save failed",
	)

	// LoadFailed is emitted when a value could not be read from the backend.
	LoadFailed = capitan.NewSignal(
		"ripple.storage.load.failed",
		"Storage load failed",
	)

	// SerializeFailed is emitted when a value could not be encoded.
	SerializeFailed = capitan.NewSignal(
		"ripple.storage.serialize.failed",
		"Value serialization failed",
	)

	// DeserializeFailed is emitted when stored bytes could not be decoded.
	DeserializeFailed = capitan.NewSignal(
		"ripple.storage.deserialize.failed",
		"Value deserialization failed",
	)

	// ClearFailed is emitted when a key could not be removed.
	ClearFailed = capitan.NewSignal(
		"ripple.storage.clear.failed",
		"Storage clear failed",
	)
)

// External change signals.
var (
	// ExternalChange is emitted when another writer changed a watched key.
	ExternalChange = capitan.NewSignal(
		"ripple.storage.external.change",
		"External change received",
	)

	// WatchCallbackFailed is emitted when a change callback panics.
	WatchCallbackFailed = capitan.NewSignal(
		"ripple.storage.watch.callback.failed",
		"Change callback panicked",
	)
)

// Auto-save signals.
var (
	// AutoSaveFlushed is emitted after a debounced save was written.
	AutoSaveFlushed = capitan.NewSignal(
		"ripple.storage.autosave.flushed",
		"Debounced save written",
	)

	// BindFailed is emitted when a binding could not apply an external change
	// to its state.
	BindFailed = capitan.NewSignal(
		"ripple.storage.bind.failed",
		"Binding failed to apply change",
	)
)
