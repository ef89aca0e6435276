package store

import (
	"context"
	"maps"
)

// IDColumn is the identity column every mapped table must have.
const IDColumn = "id"

// Record is a single row keyed by column name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Connection is the data-access boundary a Result resolves relationships through.
// Repositories use the same connection to persist rows.
type Connection interface {
	// Fetch returns every record matched by q, in storage order.
	Fetch(ctx context.Context, q *Query) ([]Record, error)

	// Render returns the canonical text of q. Two queries that fetch the same rows
	// must render identically; the text keys filtered relationship caches.
	Render(q *Query) (string, error)

	// Insert stores values as a new row of table and returns its id.
	Insert(ctx context.Context, table string, values Record) (int64, error)

	// Update writes values into the row of table with the given id and returns
	// the number of affected rows.
	Update(ctx context.Context, table string, id int64, values Record) (int64, error)

	// Delete removes the row of table with the given id.
	Delete(ctx context.Context, table string, id int64) error
}

// ViaColumn returns the default foreign key column referencing table ("author" -> "author_id").
func ViaColumn(table string) string {
	return table + "_" + IDColumn
}
