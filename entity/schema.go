package entity

import (
	"fmt"

	"github.com/jacentio/leanmap/store"
)

// Kind is the declared type of a property.
type Kind int

// Basic kinds hold a column value; the remaining kinds are relationships.
const (
	KindInt    Kind = iota + 1 // int64
	KindFloat                  // float64
	KindString                 // string
	KindBool                   // bool
	KindTime                   // time.Time

	KindHasOne        // foreign key in this table
	KindHasMany       // join table, any number of targets
	KindHasOneThrough // join table, at most one target
	KindBelongsToOne  // foreign key in the target table, at most one row
	KindBelongsToMany // foreign key in the target table
)

var kindNames = map[Kind]string{
	KindInt:           "int",
	KindFloat:         "float",
	KindString:        "string",
	KindBool:          "bool",
	KindTime:          "time",
	KindHasOne:        "hasOne",
	KindHasMany:       "hasMany",
	KindHasOneThrough: "hasOneThrough",
	KindBelongsToOne:  "belongsToOne",
	KindBelongsToMany: "belongsToMany",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Basic reports whether the kind is a scalar column type.
func (k Kind) Basic() bool { return k >= KindInt && k <= KindTime }

// ToOne reports whether the relationship kind resolves to at most one entity.
func (k Kind) ToOne() bool {
	return k == KindHasOne || k == KindHasOneThrough || k == KindBelongsToOne
}

// FilterFunc narrows the query of a relationship property. args are the extra
// arguments passed to Entity.Get.
type FilterFunc func(q *store.Query, args ...any)

// Property describes one property of a schema.
type Property struct {
	Name string
	Kind Kind

	// Column is the backing column of a basic property. For relationships it is
	// the foreign key column: in the source table for HasOne, in the target table
	// for BelongsTo*, and in the join table (referencing the source) for HasMany
	// and HasOneThrough. Empty relationship columns use "<table>_id" defaults.
	Column string

	Nullable bool
	ReadOnly bool

	// Target is the schema name of the related entity.
	Target string

	// JoinTable and JoinTargetColumn describe the join table of HasMany and
	// HasOneThrough. An empty JoinTable means "<source table>_<target table>".
	JoinTable        string
	JoinTargetColumn string

	Filters []FilterFunc
}

// filter binds the property filters to args. It returns nil without filters so
// the unfiltered cache entry is used.
func (p *Property) filter(args []any) store.Filter {
	if len(p.Filters) == 0 {
		return nil
	}
	filters := p.Filters
	return func(q *store.Query) {
		for _, f := range filters {
			f(q, args...)
		}
	}
}

// Schema declares the properties of an entity type and the table it maps to.
// Build it with NewSchema and the chained property methods, then Register it.
//
//	book := entity.NewSchema("book", "book").
//		Int("id").ReadOnly().
//		String("title").
//		HasOne("author", "author").
//		HasOne("reviewer", "author").Column("reviewer_id").Nullable().
//		HasMany("tags", "tag", "book_tag")
type Schema struct {
	name  string
	table string

	properties map[string]*Property
	order      []string
	last       *Property
	err        error

	registry *Registry
}

// NewSchema starts a schema named name mapped to table.
func NewSchema(name, table string) *Schema {
	return &Schema{
		name:       name,
		table:      table,
		properties: make(map[string]*Property),
	}
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Table returns the mapped table.
func (s *Schema) Table() string { return s.table }

// Registry returns the registry the schema is registered in, or nil.
func (s *Schema) Registry() *Registry { return s.registry }

// Property returns the property declared under name.
func (s *Schema) Property(name string) (*Property, bool) {
	p, ok := s.properties[name]
	return p, ok
}

// Properties returns the properties in declaration order.
func (s *Schema) Properties() []*Property {
	props := make([]*Property, 0, len(s.order))
	for _, name := range s.order {
		props = append(props, s.properties[name])
	}
	return props
}

// Err returns the first declaration error, if any.
func (s *Schema) Err() error { return s.err }

func (s *Schema) add(p *Property) *Schema {
	if s.err != nil {
		return s
	}
	if p.Name == "" {
		s.err = fmt.Errorf("%w: schema %q: empty property name", store.ErrInvalidArgument, s.name)
		return s
	}
	if _, dup := s.properties[p.Name]; dup {
		s.err = fmt.Errorf("%w: schema %q: duplicate property %q", store.ErrInvalidArgument, s.name, p.Name)
		return s
	}
	s.properties[p.Name] = p
	s.order = append(s.order, p.Name)
	s.last = p
	return s
}

func (s *Schema) basic(name string, kind Kind) *Schema {
	return s.add(&Property{Name: name, Kind: kind, Column: name})
}

// Int declares an integer property.
func (s *Schema) Int(name string) *Schema { return s.basic(name, KindInt) }

// Float declares a floating point property.
func (s *Schema) Float(name string) *Schema { return s.basic(name, KindFloat) }

// String declares a string property.
func (s *Schema) String(name string) *Schema { return s.basic(name, KindString) }

// Bool declares a boolean property.
func (s *Schema) Bool(name string) *Schema { return s.basic(name, KindBool) }

// Time declares a time property.
func (s *Schema) Time(name string) *Schema { return s.basic(name, KindTime) }

// HasOne declares a to-one property resolved through a foreign key of this table.
func (s *Schema) HasOne(name, target string) *Schema {
	return s.add(&Property{Name: name, Kind: KindHasOne, Target: target})
}

// HasMany declares a to-many property resolved through joinTable.
func (s *Schema) HasMany(name, target, joinTable string) *Schema {
	return s.add(&Property{Name: name, Kind: KindHasMany, Target: target, JoinTable: joinTable})
}

// HasOneThrough declares a to-one property resolved through joinTable.
func (s *Schema) HasOneThrough(name, target, joinTable string) *Schema {
	return s.add(&Property{Name: name, Kind: KindHasOneThrough, Target: target, JoinTable: joinTable})
}

// BelongsToOne declares a to-one property resolved through a foreign key of the target table.
func (s *Schema) BelongsToOne(name, target string) *Schema {
	return s.add(&Property{Name: name, Kind: KindBelongsToOne, Target: target})
}

// BelongsToMany declares a to-many property resolved through a foreign key of the target table.
func (s *Schema) BelongsToMany(name, target string) *Schema {
	return s.add(&Property{Name: name, Kind: KindBelongsToMany, Target: target})
}

func (s *Schema) modify(modifier string, fn func(p *Property)) *Schema {
	if s.err != nil {
		return s
	}
	if s.last == nil {
		s.err = fmt.Errorf("%w: schema %q: %s before any property", store.ErrInvalidArgument, s.name, modifier)
		return s
	}
	fn(s.last)
	return s
}

// Nullable allows the last declared property to be null.
func (s *Schema) Nullable() *Schema {
	return s.modify("Nullable", func(p *Property) { p.Nullable = true })
}

// ReadOnly forbids writes to the last declared property.
func (s *Schema) ReadOnly() *Schema {
	return s.modify("ReadOnly", func(p *Property) { p.ReadOnly = true })
}

// Column overrides the column of the last declared property.
func (s *Schema) Column(column string) *Schema {
	return s.modify("Column", func(p *Property) { p.Column = column })
}

// TargetColumn sets the join table column referencing the target table of the
// last declared HasMany or HasOneThrough property.
func (s *Schema) TargetColumn(column string) *Schema {
	return s.modify("TargetColumn", func(p *Property) { p.JoinTargetColumn = column })
}

// Filter adds a query filter to the last declared relationship property.
func (s *Schema) Filter(fn FilterFunc) *Schema {
	return s.modify("Filter", func(p *Property) {
		if p.Kind.Basic() {
			s.err = fmt.Errorf("%w: schema %q: filter on basic property %q", store.ErrInvalidArgument, s.name, p.Name)
			return
		}
		p.Filters = append(p.Filters, fn)
	})
}

// hasOne returns the descriptor of a HasOne property targeting target.
func (p *Property) hasOne(target *Schema) store.HasOne {
	return store.NewHasOne(p.Column, target.table)
}

func (p *Property) sourceColumn(source *Schema) string {
	if p.Column == "" {
		return store.ViaColumn(source.table)
	}
	return p.Column
}

func (p *Property) hasMany(source, target *Schema) store.HasMany {
	join := p.JoinTable
	if join == "" {
		join = source.table + "_" + target.table
	}
	return store.NewHasMany(p.sourceColumn(source), join, p.JoinTargetColumn, target.table)
}
