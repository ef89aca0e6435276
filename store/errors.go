package store

import "errors"

var (
	// ErrNotFound is returned when a row id or a column does not exist in a Result.
	ErrNotFound = errors.New("leanmap: row or column not found")

	// ErrInvalidState is returned when an operation violates the row lifecycle
	// (writing id of an attached row, detaching twice, creating from an attached row,
	// resolving without a connection, or a to-one relationship matching several rows).
	ErrInvalidState = errors.New("leanmap: invalid state")

	// ErrInvalidArgument is returned for malformed input to a public operation.
	ErrInvalidArgument = errors.New("leanmap: invalid argument")
)
