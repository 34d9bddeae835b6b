package resource

import "errors"

var (
	// ErrReleased is returned when reading or freeing a handle whose blob is gone.
	ErrReleased = errors.New("resource: handle released")

	// ErrUnknownHandle is returned for handles a BlobStore never minted.
	ErrUnknownHandle = errors.New("resource: not a blob handle")

	// ErrArenaFull is returned by Alloc when the store's byte limit would be exceeded.
	ErrArenaFull = errors.New("resource: blob arena full")
)
