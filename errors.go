package ripple

import "errors"

var (
	// ErrMaxDepth is returned when nested effect runs exceed MaxDepth.
	ErrMaxDepth = errors.New("ripple: maximum effect depth exceeded")

	// ErrIndexOutOfRange is returned by List operations given a bad index.
	ErrIndexOutOfRange = errors.New("ripple: index out of range")

	// ErrNotContainer is returned when a path segment walks into a value that
	// is neither a State nor a List.
	ErrNotContainer = errors.New("ripple: not a container")

	// ErrPathNotFound is returned when a path segment names a missing key.
	ErrPathNotFound = errors.New("ripple: path not found")

	// ErrInvalidKey is returned when a write uses the empty key.
	ErrInvalidKey = errors.New("ripple: invalid key")
)
