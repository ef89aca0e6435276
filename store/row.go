package store

import (
	"context"
	"fmt"
)

// Row is a handle to one row of a Result. It holds no data of its own: every
// call delegates to the Result, so all handles to the same row observe the same
// values. Two Rows are equal (==) when they point to the same row of the same Result.
//
// The zero Row is invalid; its methods return ErrNotFound.
type Row struct {
	result *Result
	id     int64
}

var errNoResult = fmt.Errorf("%w: row handle is not bound to a result", ErrNotFound)

// Valid reports whether the handle points into a Result.
func (r Row) Valid() bool { return r.result != nil }

// ID returns the row id within its Result.
func (r Row) ID() int64 { return r.id }

// Result returns the owning Result.
func (r Row) Result() *Result { return r.result }

// Value returns the value of column.
func (r Row) Value(column string) (any, error) {
	if r.result == nil {
		return nil, errNoResult
	}
	return r.result.Value(r.id, column)
}

// Record returns a copy of every field of the row.
func (r Row) Record() (Record, error) {
	if r.result == nil {
		return nil, errNoResult
	}
	return r.result.Record(r.id)
}

// Set writes value into column.
func (r Row) Set(column string, value any) error {
	if r.result == nil {
		return errNoResult
	}
	return r.result.Set(r.id, column, value)
}

// IsModified reports whether the row changed since the last MarkClean.
func (r Row) IsModified() bool {
	return r.result != nil && r.result.IsModified(r.id)
}

// IsDetached reports whether the row is not persisted.
func (r Row) IsDetached() bool {
	return r.result == nil || r.result.IsDetached(r.id)
}

// Detach marks the row as not persisted.
func (r Row) Detach() error {
	if r.result == nil {
		return errNoResult
	}
	return r.result.Detach(r.id)
}

// MarkClean forgets the modifications of the row.
func (r Row) MarkClean() {
	if r.result != nil {
		r.result.MarkClean(r.id)
	}
}

// MarkCreated marks the detached row as persisted under newID and returns the
// handle to the persisted row.
func (r Row) MarkCreated(newID int64, table string, conn Connection) (Row, error) {
	if r.result == nil {
		return Row{}, errNoResult
	}
	if err := r.result.MarkCreated(newID, r.id, table, conn); err != nil {
		return Row{}, err
	}
	return Row{result: r.result, id: newID}, nil
}

// ModifiedData returns the modified columns with their values.
func (r Row) ModifiedData() Record {
	if r.result == nil {
		return Record{}
	}
	return r.result.ModifiedData(r.id)
}

// Referenced resolves the row of table referenced through viaColumn.
func (r Row) Referenced(ctx context.Context, table, viaColumn string, filter Filter) (Row, bool, error) {
	if r.result == nil {
		return Row{}, false, errNoResult
	}
	return r.result.Referenced(ctx, r.id, table, viaColumn, filter)
}

// Referencing resolves the rows of table referencing this row through viaColumn.
func (r Row) Referencing(ctx context.Context, table, viaColumn string, filter Filter) ([]Row, error) {
	if r.result == nil {
		return nil, errNoResult
	}
	return r.result.Referencing(ctx, r.id, table, viaColumn, filter)
}

// ResolveHasOne resolves a HasOne relationship.
func (r Row) ResolveHasOne(ctx context.Context, rel HasOne, filter Filter) (Row, bool, error) {
	if r.result == nil {
		return Row{}, false, errNoResult
	}
	return r.result.ResolveHasOne(ctx, r.id, rel, filter)
}

// ResolveBelongsToOne resolves a BelongsToOne relationship.
func (r Row) ResolveBelongsToOne(ctx context.Context, rel BelongsToOne, filter Filter) (Row, bool, error) {
	if r.result == nil {
		return Row{}, false, errNoResult
	}
	return r.result.ResolveBelongsToOne(ctx, r.id, rel, filter)
}

// ResolveBelongsToMany resolves a BelongsToMany relationship.
func (r Row) ResolveBelongsToMany(ctx context.Context, rel BelongsToMany, filter Filter) ([]Row, error) {
	if r.result == nil {
		return nil, errNoResult
	}
	return r.result.ResolveBelongsToMany(ctx, r.id, rel, filter)
}

// ResolveHasMany resolves a HasMany relationship.
func (r Row) ResolveHasMany(ctx context.Context, rel HasMany, filter Filter) ([]Row, error) {
	if r.result == nil {
		return nil, errNoResult
	}
	return r.result.ResolveHasMany(ctx, r.id, rel, filter)
}

// ResolveHasOneThrough resolves a HasOneThrough relationship.
func (r Row) ResolveHasOneThrough(ctx context.Context, rel HasOneThrough, filter Filter) (Row, bool, error) {
	if r.result == nil {
		return Row{}, false, errNoResult
	}
	return r.result.ResolveHasOneThrough(ctx, r.id, rel, filter)
}

// InvalidateReferenced drops cached referenced Results of the owning Result.
func (r Row) InvalidateReferenced(table, column string) {
	if r.result != nil {
		r.result.InvalidateReferenced(table, column)
	}
}
