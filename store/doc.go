// Package store provides the row tracking engine of leanmap: an in-memory set of
// database rows with per-field modification state and lazily resolved relationships.
//
// # Results and Rows
//
// A [Result] owns the rows loaded from one table (or a single row created detached).
// A [Row] is a copyable (Result, id) handle; every read and write goes through the
// Result, so all handles to the same row see the same data.
//
// A row is attached when it is believed to exist in storage and detached when it
// has not been persisted yet. Detached rows accept any column, including id;
// attached rows only accept writes to columns they were loaded with, never to id.
// [Result.Detach] marks every field modified so an insert can write the full row,
// and [Result.MarkCreated] turns a detached row into the persisted row returned by
// the storage layer.
//
// # Relationships
//
// Relationships are described by value types:
//
//   - [HasOne]: the row holds a foreign key to the target table
//   - [BelongsToMany]: rows of the target table hold a foreign key to the row
//   - [BelongsToOne]: as BelongsToMany, at most one referencing row
//   - [HasMany]: rows linked through a join table
//   - [HasOneThrough]: as HasMany, at most one linked row
//
// Resolution is batched: the first lookup for a relationship loads the related
// rows of every row in the Result with a single IN query through the [Connection],
// and caches the resulting Result under "table(column)" (plus a digest of the
// rendered query when a [Filter] is given). Writing a column drops every cached
// referenced Result joined through that column.
//
// # Concurrency
//
// Results are not safe for concurrent use. A Result graph belongs to one request
// or session at a time.
//
// # Errors
//
//   - [ErrNotFound] - row or column does not exist
//   - [ErrInvalidState] - the operation violates the row lifecycle
//   - [ErrInvalidArgument] - malformed input
package store
