package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a client does not exist in the selected
	// instance.
	ErrNotFound = errors.New("client not found")

	// ErrConflict is returned when a client with the given public ID already
	// exists.
	ErrConflict = errors.New("client already exists")
)
