package dynamo

import "errors"

var (
	// ErrAlreadyExists is returned when an item with the same id already exists.
	ErrAlreadyExists = errors.New("leanmap: item already exists")

	// ErrUnprocessed is returned when BatchGetItem keeps returning unprocessed keys.
	ErrUnprocessed = errors.New("leanmap: batch get left unprocessed keys")
)
