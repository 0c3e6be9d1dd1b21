package graph

import "errors"

var (
	// ErrNotFound indicates a referenced entity does not exist. The write was not applied.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed parameters: negative k, embedding
	// dimension mismatch, hops out of range, or a conflicting chunk parent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable indicates the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)
