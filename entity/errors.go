package entity

import "errors"

var (
	// ErrInvalidValue is returned when a value cannot be converted to the declared
	// property type, or a non-nullable property holds or receives null.
	ErrInvalidValue = errors.New("leanmap: invalid property value")

	// ErrReadOnly is returned when writing a read-only property.
	ErrReadOnly = errors.New("leanmap: property is read-only")

	// ErrUnknownProperty is returned for property names the schema does not declare.
	ErrUnknownProperty = errors.New("leanmap: unknown property")

	// ErrRegistrySealed is returned when registering a schema after the registry
	// has been used for lookups.
	ErrRegistrySealed = errors.New("leanmap: registry is sealed")
)
