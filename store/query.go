package store

import "sort"

// Op is a comparison operator used in a query condition.
type Op string

// Supported operators. Comparisons against nil match nothing; use OpIsNull.
const (
	OpEq      Op = "="           // equal
	OpNeq     Op = "<>"          // not equal
	OpLt      Op = "<"           // less than
	OpLte     Op = "<="          // less than or equal
	OpGt      Op = ">"           // greater than
	OpGte     Op = ">="          // greater than or equal
	OpIn      Op = "IN"          // member of a []any value
	OpIsNull  Op = "IS NULL"     // null or absent
	OpNotNull Op = "IS NOT NULL" // present and not null
)

// Condition is a single column predicate. Conditions of a query are joined with AND.
type Condition struct {
	Column string
	Op     Op

	// Value is ignored for OpIsNull and OpNotNull and is a []any for OpIn.
	Value any
}

// Order is a single ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query is a backend-neutral "SELECT * FROM table WHERE ..." statement.
// Connections translate it into their own request type.
type Query struct {
	Table string

	conditions []Condition
	orders     []Order
	limit      uint64
	offset     uint64
}

// NewQuery returns a query selecting every row of table.
func NewQuery(table string) *Query {
	return &Query{Table: table}
}

// Where adds a condition.
func (q *Query) Where(column string, op Op, value any) *Query {
	q.conditions = append(q.conditions, Condition{Column: column, Op: op, Value: value})
	return q
}

// In restricts column to the given values.
func (q *Query) In(column string, values []any) *Query {
	return q.Where(column, OpIn, values)
}

// OrderBy sorts ascending by column.
func (q *Query) OrderBy(column string) *Query {
	q.orders = append(q.orders, Order{Column: column})
	return q
}

// OrderByDesc sorts descending by column.
func (q *Query) OrderByDesc(column string) *Query {
	q.orders = append(q.orders, Order{Column: column, Desc: true})
	return q
}

// Limit caps the number of returned rows (0 = no limit).
func (q *Query) Limit(n uint64) *Query {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n uint64) *Query {
	q.offset = n
	return q
}

// Conditions returns the query conditions in the order they were added.
func (q *Query) Conditions() []Condition { return q.conditions }

// Orders returns the ORDER BY terms.
func (q *Query) Orders() []Order { return q.orders }

// LimitValue returns the row limit, 0 meaning unlimited.
func (q *Query) LimitValue() uint64 { return q.limit }

// OffsetValue returns the number of skipped rows.
func (q *Query) OffsetValue() uint64 { return q.offset }

// Filter modifies a base query before it is executed.
type Filter func(q *Query)

// Filters composes filters into one, skipping nil entries. It returns nil when
// nothing remains so callers keep the unfiltered cache key.
func Filters(filters ...Filter) Filter {
	var active []Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(q *Query) {
		for _, f := range active {
			f(q)
		}
	}
}

// Matches reports whether rec satisfies every condition of the query. Comparisons
// follow Compare; a NULL operand never matches a comparison.
func (q *Query) Matches(rec Record) bool {
	for _, c := range q.conditions {
		if !c.matches(rec[c.Column]) {
			return false
		}
	}
	return true
}

func (c Condition) matches(v any) bool {
	switch c.Op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpIn:
		if v == nil {
			return false
		}
		values, _ := c.Value.([]any)
		for _, candidate := range values {
			if n, ok := Compare(v, candidate); ok && n == 0 {
				return true
			}
		}
		return false
	}
	if v == nil || c.Value == nil {
		return false
	}
	n, ok := Compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return n == 0
	case OpNeq:
		return n != 0
	case OpLt:
		return n < 0
	case OpLte:
		return n <= 0
	case OpGt:
		return n > 0
	case OpGte:
		return n >= 0
	}
	return false
}

// Arrange sorts records by the query's ORDER BY terms (stable) and applies its
// offset and limit. It is used by connections whose storage cannot sort.
func (q *Query) Arrange(records []Record) []Record {
	if len(q.orders) > 0 {
		sort.SliceStable(records, func(i, j int) bool {
			for _, o := range q.orders {
				n, _ := Compare(records[i][o.Column], records[j][o.Column])
				if n == 0 {
					continue
				}
				if o.Desc {
					return n > 0
				}
				return n < 0
			}
			return false
		})
	}
	if q.offset > 0 {
		if q.offset >= uint64(len(records)) {
			return nil
		}
		records = records[q.offset:]
	}
	if q.limit > 0 && q.limit < uint64(len(records)) {
		records = records[:q.limit]
	}
	return records
}
