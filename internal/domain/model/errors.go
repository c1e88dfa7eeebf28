package model

import "errors"

var (
	// ErrRefNotFound is returned by the forge when the ref has no commit on
	// the remote yet, typically right after a local-only push.
	ErrRefNotFound = errors.New("no commit found for ref")

	// ErrNoForgeClient is returned when no forge credentials are configured.
	ErrNoForgeClient = errors.New("no forge client configured")

	// ErrCorruptCacheEntry is returned by a status cache whose stored value
	// cannot be decoded.
	ErrCorruptCacheEntry = errors.New("corrupt status cache entry")
)
