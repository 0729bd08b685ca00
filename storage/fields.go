package storage

import "github.com/zoobzio/capitan"

// Field keys for storage events.
var (
	// KeyKey is the full backend key, namespace included.
	KeyKey = capitan.NewStringKey("key")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyContentType is the codec content type.
	KeyContentType = capitan.NewStringKey("content_type")

	// KeyBytes is the size of the written payload.
	KeyBytes = capitan.NewIntKey("bytes")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
