// Package storetest provides an in-memory store.Connection for tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jacentio/leanmap/store"
)

// Memory is an in-memory store.Connection. It keeps tables as ordered record
// slices and logs every fetched query so tests can count round trips.
type Memory struct {
	tables map[string][]store.Record

	// Fetched holds every query passed to Fetch, in call order.
	Fetched []*store.Query

	// FailFetch, when set, is returned by Fetch.
	FailFetch error
}

// NewMemory returns an empty Memory connection.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]store.Record)}
}

// Seed appends records to table.
func (m *Memory) Seed(table string, records ...store.Record) {
	for _, rec := range records {
		m.tables[table] = append(m.tables[table], rec.Clone())
	}
}

// Rows returns copies of the records of table.
func (m *Memory) Rows(table string) []store.Record {
	var rows []store.Record
	for _, rec := range m.tables[table] {
		rows = append(rows, rec.Clone())
	}
	return rows
}

// FetchCount returns the number of Fetch calls so far.
func (m *Memory) FetchCount() int {
	return len(m.Fetched)
}

// FetchCountFor returns the number of Fetch calls against table.
func (m *Memory) FetchCountFor(table string) int {
	n := 0
	for _, q := range m.Fetched {
		if q.Table == table {
			n++
		}
	}
	return n
}

// Fetch implements store.Connection.
func (m *Memory) Fetch(_ context.Context, q *store.Query) ([]store.Record, error) {
	m.Fetched = append(m.Fetched, q)
	if m.FailFetch != nil {
		return nil, m.FailFetch
	}

	var out []store.Record
	for _, rec := range m.tables[q.Table] {
		if q.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return q.Arrange(out), nil
}

// Render implements store.Connection.
func (m *Memory) Render(q *store.Query) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", q.Table)
	for i, c := range q.Conditions() {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		switch c.Op {
		case store.OpIsNull, store.OpNotNull:
			fmt.Fprintf(&b, "%s %s", c.Column, c.Op)
		default:
			fmt.Fprintf(&b, "%s %s %v", c.Column, c.Op, c.Value)
		}
	}
	for i, o := range q.Orders() {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.LimitValue() > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.LimitValue())
	}
	if q.OffsetValue() > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.OffsetValue())
	}
	return b.String(), nil
}

// Insert implements store.Connection. Without an id the next free id is used.
func (m *Memory) Insert(_ context.Context, table string, values store.Record) (int64, error) {
	rec := values.Clone()
	var id int64
	if raw, ok := rec[store.IDColumn]; ok && raw != nil {
		v, ok := store.ToID(raw)
		if !ok {
			return 0, fmt.Errorf("storetest: invalid id %v", raw)
		}
		if m.index(table, v) >= 0 {
			return 0, fmt.Errorf("storetest: duplicate id %d in %s", v, table)
		}
		id = v
	} else {
		for _, existing := range m.tables[table] {
			if v, ok := store.ToID(existing[store.IDColumn]); ok && v > id {
				id = v
			}
		}
		id++
	}
	rec[store.IDColumn] = id
	m.tables[table] = append(m.tables[table], rec)
	return id, nil
}

// Update implements store.Connection.
func (m *Memory) Update(_ context.Context, table string, id int64, values store.Record) (int64, error) {
	i := m.index(table, id)
	if i < 0 {
		return 0, nil
	}
	for k, v := range values {
		m.tables[table][i][k] = v
	}
	return 1, nil
}

// Delete implements store.Connection.
func (m *Memory) Delete(_ context.Context, table string, id int64) error {
	if i := m.index(table, id); i >= 0 {
		m.tables[table] = slices.Delete(m.tables[table], i, i+1)
	}
	return nil
}

func (m *Memory) index(table string, id int64) int {
	for i, rec := range m.tables[table] {
		if v, ok := store.ToID(rec[store.IDColumn]); ok && v == id {
			return i
		}
	}
	return -1
}
