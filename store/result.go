package store

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"

	"github.com/jacentio/leanmap/internal/cachekey"
)

// Result is a set of rows loaded from one table (or created detached), together
// with their modification state and the related Results resolved from them.
//
// A Result is not safe for concurrent use. One request or session is expected to
// own a Result graph at a time.
type Result struct {
	rows     map[int64]Record
	order    []int64
	modified map[int64]map[string]struct{}
	detached map[int64]struct{}

	table string
	conn  Connection

	referenced  map[string]cacheEntry
	referencing map[string]cacheEntry
}

// cacheEntry is a resolved related Result plus the table and join column it was
// resolved through, kept for invalidation.
type cacheEntry struct {
	table  string
	column string
	result *Result
}

func newResult(table string, conn Connection) *Result {
	return &Result{
		rows:        make(map[int64]Record),
		modified:    make(map[int64]map[string]struct{}),
		detached:    make(map[int64]struct{}),
		table:       table,
		conn:        conn,
		referenced:  make(map[string]cacheEntry),
		referencing: make(map[string]cacheEntry),
	}
}

// NewResult creates an attached Result from persisted records of table.
// Records are keyed by their id column; a record without id gets the next free
// key. A non-integral id is rejected with ErrInvalidArgument.
func NewResult(records []Record, table string, conn Connection) (*Result, error) {
	r := newResult(table, conn)
	var next int64
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrInvalidArgument, i)
		}
		id := next
		if raw, ok := rec[IDColumn]; ok && raw != nil {
			v, ok := ToID(raw)
			if !ok {
				return nil, fmt.Errorf("%w: record %d has non-integral id %v (%T)", ErrInvalidArgument, i, raw, raw)
			}
			id = v
		}
		if _, exists := r.rows[id]; !exists {
			r.order = append(r.order, id)
		}
		r.rows[id] = rec.Clone()
		if id >= next {
			next = id + 1
		}
	}
	return r, nil
}

// NewResultFromRecord creates an attached Result holding a single record.
// The row is keyed by its id, or 0 when the record has none.
func NewResultFromRecord(rec Record, table string, conn Connection) (*Result, error) {
	return NewResult([]Record{rec}, table, conn)
}

// NewDetached creates a Result with one empty detached row under id 0 and no
// table or connection.
func NewDetached() *Result {
	r := newResult("", nil)
	r.rows[0] = Record{}
	r.order = []int64{0}
	r.detached[0] = struct{}{}
	return r
}

// Table returns the originating table, or "" for a detached Result.
func (r *Result) Table() string { return r.table }

// Connection returns the bound connection, or nil.
func (r *Result) Connection() Connection { return r.conn }

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.order) }

// IDs returns the row ids in load order.
func (r *Result) IDs() []int64 { return slices.Clone(r.order) }

// All returns an iterator over copies of all rows in load order.
func (r *Result) All() iter.Seq2[int64, Record] {
	return func(yield func(int64, Record) bool) {
		for _, id := range r.order {
			if !yield(id, r.rows[id].Clone()) {
				return
			}
		}
	}
}

// Row returns a handle to the row with the given id.
func (r *Result) Row(id int64) (Row, bool) {
	if _, ok := r.rows[id]; !ok {
		return Row{}, false
	}
	return Row{result: r, id: id}, true
}

// Rows returns handles to every row in load order.
func (r *Result) Rows() []Row {
	rows := make([]Row, 0, len(r.order))
	for _, id := range r.order {
		rows = append(rows, Row{result: r, id: id})
	}
	return rows
}

// Value returns the value of column in the row with the given id.
func (r *Result) Value(id int64, column string) (any, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: missing row with id %d", ErrNotFound, id)
	}
	v, ok := row[column]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q value for row %d", ErrNotFound, column, id)
	}
	return v, nil
}

// Record returns a copy of every field of the row with the given id.
func (r *Result) Record(id int64) (Record, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: missing row with id %d", ErrNotFound, id)
	}
	return row.Clone(), nil
}

// Set writes value into column of the row with the given id and marks the column
// modified. The id column is writable only in detached rows, and attached rows
// only accept columns they already have.
//
// Cached referenced Results joined through column are dropped, so the next
// resolution sees the new foreign key.
func (r *Result) Set(id int64, column string, value any) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: missing row with id %d", ErrNotFound, id)
	}
	detached := r.IsDetached(id)
	if column == IDColumn && !detached {
		return fmt.Errorf("%w: id can only be set in detached rows", ErrInvalidState)
	}
	if _, exists := row[column]; !exists && !detached {
		return fmt.Errorf("%w: missing field %q in row %d", ErrInvalidState, column, id)
	}

	r.markModified(id, column)
	row[column] = value
	r.invalidateColumn(column)
	return nil
}

// IsModified reports whether any column of the row changed since the last MarkClean.
func (r *Result) IsModified(id int64) bool {
	return len(r.modified[id]) > 0
}

// IsDetached reports whether the row is not persisted. A missing row counts as detached.
func (r *Result) IsDetached(id int64) bool {
	if _, ok := r.rows[id]; !ok {
		return true
	}
	_, ok := r.detached[id]
	return ok
}

// Detach marks the row as not persisted and every one of its columns as modified,
// so a following insert writes the whole row.
func (r *Result) Detach(id int64) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: %w: missing row with id %d", ErrInvalidState, ErrNotFound, id)
	}
	if r.IsDetached(id) {
		return fmt.Errorf("%w: row with id %d is already detached", ErrInvalidState, id)
	}
	r.detached[id] = struct{}{}
	for column := range row {
		r.markModified(id, column)
	}
	return nil
}

// MarkClean forgets the modifications of the row (IsModified returns false afterwards).
func (r *Result) MarkClean(id int64) {
	delete(r.modified, id)
}

// MarkCreated turns the detached row oldID into the persisted row newID. The
// Result is left holding exactly that row: {id: newID} merged with the modified
// fields of oldID. Flags of both ids are cleared, table and conn are adopted, and
// both relationship caches are dropped.
func (r *Result) MarkCreated(newID, oldID int64, table string, conn Connection) error {
	if !r.IsDetached(oldID) {
		return fmt.Errorf("%w: row with id %d is not detached", ErrInvalidState, oldID)
	}
	row := r.ModifiedData(oldID)
	row[IDColumn] = newID

	r.rows = map[int64]Record{newID: row}
	r.order = []int64{newID}
	for _, id := range []int64{newID, oldID} {
		delete(r.modified, id)
		delete(r.detached, id)
	}
	r.table = table
	r.conn = conn
	clear(r.referenced)
	clear(r.referencing)
	return nil
}

// ModifiedData returns the modified columns of the row with their current values.
func (r *Result) ModifiedData(id int64) Record {
	data := Record{}
	row := r.rows[id]
	for column := range r.modified[id] {
		data[column] = row[column]
	}
	return data
}

// Referenced resolves the row of table referenced by viaColumn of the row with the
// given id. The first call loads every row of table referenced by any row of this
// Result with one query and caches it; later calls are served from the cache.
// An empty viaColumn means "<table>_id". A nil foreign key resolves to no row.
func (r *Result) Referenced(ctx context.Context, id int64, table, viaColumn string, filter Filter) (Row, bool, error) {
	if r.conn == nil {
		return Row{}, false, fmt.Errorf("%w: cannot get referenced row for result without connection", ErrInvalidState)
	}
	if viaColumn == "" {
		viaColumn = ViaColumn(table)
	}
	fk, err := r.Value(id, viaColumn)
	if err != nil {
		return Row{}, false, err
	}
	target, err := r.referencedResult(ctx, table, viaColumn, filter)
	if err != nil {
		return Row{}, false, err
	}
	if fk == nil {
		return Row{}, false, nil
	}
	targetID, ok := ToID(fk)
	if !ok {
		return Row{}, false, nil
	}
	row, ok := target.Row(targetID)
	return row, ok, nil
}

// Referencing resolves the rows of table whose viaColumn references the row with
// the given id, in load order. The first call loads the rows of table referencing
// any row of this Result with one query and caches them. An empty viaColumn means
// "<this table>_id".
func (r *Result) Referencing(ctx context.Context, id int64, table, viaColumn string, filter Filter) ([]Row, error) {
	if r.conn == nil || r.table == "" {
		return nil, fmt.Errorf("%w: cannot get referencing rows for detached result", ErrInvalidState)
	}
	if _, ok := r.rows[id]; !ok {
		return nil, fmt.Errorf("%w: missing row with id %d", ErrNotFound, id)
	}
	if viaColumn == "" {
		viaColumn = ViaColumn(r.table)
	}
	collection, err := r.referencingResult(ctx, table, viaColumn, filter)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, key := range collection.order {
		if fk, ok := ToID(collection.rows[key][viaColumn]); ok && fk == id {
			rows = append(rows, Row{result: collection, id: key})
		}
	}
	return rows, nil
}

// ResolveHasOne resolves a HasOne relationship of the row.
func (r *Result) ResolveHasOne(ctx context.Context, id int64, rel HasOne, filter Filter) (Row, bool, error) {
	if err := rel.Validate(); err != nil {
		return Row{}, false, err
	}
	return r.Referenced(ctx, id, rel.TargetTable, rel.column(), filter)
}

// ResolveBelongsToMany resolves every row referencing the row through rel.
func (r *Result) ResolveBelongsToMany(ctx context.Context, id int64, rel BelongsToMany, filter Filter) ([]Row, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	return r.Referencing(ctx, id, rel.TargetTable, rel.ColumnReferencingSource, filter)
}

// ResolveBelongsToOne resolves the single row referencing the row through rel.
// More than one referencing row is an ErrInvalidState multiplicity violation.
func (r *Result) ResolveBelongsToOne(ctx context.Context, id int64, rel BelongsToOne, filter Filter) (Row, bool, error) {
	if err := rel.Validate(); err != nil {
		return Row{}, false, err
	}
	rows, err := r.Referencing(ctx, id, rel.TargetTable, rel.ColumnReferencingSource, filter)
	if err != nil {
		return Row{}, false, err
	}
	return single(rows, rel.TargetTable, id)
}

// ResolveHasMany resolves the rows of rel.TargetTable linked to the row through the
// join table. Join rows and target rows are each loaded with one batch query.
// The filter applies to the target table only.
func (r *Result) ResolveHasMany(ctx context.Context, id int64, rel HasMany, filter Filter) ([]Row, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	joinColumn := rel.ColumnReferencingSource
	if joinColumn == "" {
		joinColumn = ViaColumn(r.table)
	}
	joinKey := cachekey.Key(rel.RelationshipTable, joinColumn)
	_, joinCached := r.referencing[joinKey]

	joins, err := r.Referencing(ctx, id, rel.RelationshipTable, joinColumn, nil)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, join := range joins {
		target, ok, err := join.result.Referenced(ctx, join.id, rel.TargetTable, rel.targetColumn(), filter)
		if err != nil {
			// A failed resolve leaves the caches as they were.
			if !joinCached {
				delete(r.referencing, joinKey)
			}
			return nil, err
		}
		if ok {
			rows = append(rows, target)
		}
	}
	return rows, nil
}

// ResolveHasOneThrough resolves a join-table relationship expected to yield at most one row.
func (r *Result) ResolveHasOneThrough(ctx context.Context, id int64, rel HasOneThrough, filter Filter) (Row, bool, error) {
	rows, err := r.ResolveHasMany(ctx, id, HasMany(rel), filter)
	if err != nil {
		return Row{}, false, err
	}
	return single(rows, rel.TargetTable, id)
}

// InvalidateReferenced drops cached referenced Results resolved from table through
// column, including every filtered variant. An empty table or column drops all.
func (r *Result) InvalidateReferenced(table, column string) {
	invalidate(r.referenced, table, column)
}

// InvalidateReferencing drops cached referencing Results of table joined through
// column. An empty table or column drops all.
func (r *Result) InvalidateReferencing(table, column string) {
	invalidate(r.referencing, table, column)
}

func invalidate(cache map[string]cacheEntry, table, column string) {
	if table == "" || column == "" {
		clear(cache)
		return
	}
	for key, entry := range cache {
		if entry.table == table && entry.column == column {
			delete(cache, key)
		}
	}
}

// invalidateColumn drops referenced Results joined through column of this Result.
func (r *Result) invalidateColumn(column string) {
	for key, entry := range r.referenced {
		if entry.column == column {
			delete(r.referenced, key)
		}
	}
}

func (r *Result) markModified(id int64, column string) {
	fields, ok := r.modified[id]
	if !ok {
		fields = make(map[string]struct{})
		r.modified[id] = fields
	}
	fields[column] = struct{}{}
}

func (r *Result) referencedResult(ctx context.Context, table, viaColumn string, filter Filter) (*Result, error) {
	ids := func() []any { return r.extractIDs(viaColumn) }
	return r.cachedResult(ctx, r.referenced, table, viaColumn, IDColumn, ids, filter)
}

func (r *Result) referencingResult(ctx context.Context, table, viaColumn string, filter Filter) (*Result, error) {
	ids := func() []any {
		out := make([]any, 0, len(r.order))
		for _, id := range r.order {
			out = append(out, id)
		}
		return out
	}
	return r.cachedResult(ctx, r.referencing, table, viaColumn, viaColumn, ids, filter)
}

// cachedResult returns the Result of "SELECT * FROM table WHERE inColumn IN ids",
// filtered, from cache or by fetching it through the connection. ids is only
// evaluated when the unfiltered entry is not cached.
func (r *Result) cachedResult(ctx context.Context, cache map[string]cacheEntry, table, viaColumn, inColumn string, ids func() []any, filter Filter) (*Result, error) {
	key := cachekey.Key(table, viaColumn)
	if filter == nil {
		if entry, ok := cache[key]; ok {
			return entry.result, nil
		}
	}

	values := ids()
	if len(values) == 0 {
		// Nothing to reference; a filter cannot add rows to an empty set.
		if entry, ok := cache[key]; ok {
			return entry.result, nil
		}
		empty := newResult(table, r.conn)
		cache[key] = cacheEntry{table: table, column: viaColumn, result: empty}
		return empty, nil
	}

	q := NewQuery(table).In(inColumn, values)
	if filter != nil {
		filter(q)
		rendered, err := r.conn.Render(q)
		if err != nil {
			return nil, fmt.Errorf("render %s query: %w", table, err)
		}
		key = cachekey.WithQuery(key, rendered)
	}
	if entry, ok := cache[key]; ok {
		return entry.result, nil
	}

	records, err := r.conn.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	result, err := NewResult(records, table, r.conn)
	if err != nil {
		return nil, err
	}
	cache[key] = cacheEntry{table: table, column: viaColumn, result: result}
	return result, nil
}

// extractIDs returns the distinct non-null values of column over all rows, in load order.
func (r *Result) extractIDs(column string) []any {
	seen := make(map[any]struct{})
	var ids []any
	for _, id := range r.order {
		v, ok := r.rows[id][column]
		if !ok || v == nil {
			continue
		}
		if n, ok := ToID(v); ok {
			v = n
		} else if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		ids = append(ids, v)
	}
	return ids
}

func single(rows []Row, table string, id int64) (Row, bool, error) {
	switch len(rows) {
	case 0:
		return Row{}, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return Row{}, false, fmt.Errorf("%w: %d rows of %q relate to row %d, at most one expected",
			ErrInvalidState, len(rows), table, id)
	}
}

// ToID converts a loaded column value into a row id. Integers, integral floats and
// decimal strings (some drivers return numbers as text) convert; anything else does not.
func ToID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return ToID(float64(n))
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
