package entity

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jacentio/leanmap/store"
)

// Entity is a typed view of one row. Property reads and writes go through the
// schema: basic values are converted to their declared type and relationships
// resolve through the row's Result, so sibling entities loaded together share
// batched relationship queries.
type Entity struct {
	schema *Schema
	row    store.Row
}

// New returns a detached entity backed by a fresh empty row.
func New(schema *Schema) *Entity {
	row, _ := store.NewDetached().Row(0)
	return &Entity{schema: schema, row: row}
}

// Wrap returns an entity viewing row through schema.
func Wrap(schema *Schema, row store.Row) *Entity {
	return &Entity{schema: schema, row: row}
}

// Schema returns the entity schema.
func (e *Entity) Schema() *Schema { return e.schema }

// Row returns the backing row handle.
func (e *Entity) Row() store.Row { return e.row }

// ID returns the value of the id column.
func (e *Entity) ID() (int64, error) {
	v, err := e.row.Value(store.IDColumn)
	if err != nil {
		return 0, err
	}
	id, ok := store.ToID(v)
	if !ok {
		return 0, fmt.Errorf("%w: id %v (%T) of %s is not an integer", ErrInvalidValue, v, v, e.schema.name)
	}
	return id, nil
}

func (e *Entity) property(name string) (*Property, error) {
	p, ok := e.schema.Property(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.schema.name, name)
	}
	return p, nil
}

// Get returns the value of a property. Basic properties yield int64, float64,
// string, bool or time.Time (nil when null). To-one relationships yield *Entity
// (nil when absent and nullable) and to-many relationships []*Entity. args are
// passed to the property filters.
func (e *Entity) Get(ctx context.Context, name string, args ...any) (any, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	if p.Kind.Basic() {
		return e.basicValue(p)
	}
	if p.Kind.ToOne() {
		one, err := e.one(ctx, p, args)
		if err != nil || one == nil {
			return nil, err
		}
		return one, nil
	}
	return e.many(ctx, p, args)
}

func (e *Entity) basicValue(p *Property) (any, error) {
	v, err := e.row.Value(p.Column)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if !p.Nullable {
			return nil, fmt.Errorf("%w: property %q cannot be null", ErrInvalidValue, p.Name)
		}
		return nil, nil
	}
	return convert(p.Kind, v)
}

func (e *Entity) target(p *Property) (*Schema, error) {
	if e.schema.registry == nil {
		return nil, fmt.Errorf("%w: schema %q is not registered", store.ErrInvalidState, e.schema.name)
	}
	target, ok := e.schema.registry.Lookup(p.Target)
	if !ok {
		return nil, fmt.Errorf("%w: property %q targets unknown schema %q", store.ErrInvalidState, p.Name, p.Target)
	}
	return target, nil
}

func (e *Entity) one(ctx context.Context, p *Property, args []any) (*Entity, error) {
	target, err := e.target(p)
	if err != nil {
		return nil, err
	}
	filter := p.filter(args)

	var (
		row   store.Row
		found bool
	)
	switch p.Kind {
	case KindHasOne:
		row, found, err = e.row.ResolveHasOne(ctx, p.hasOne(target), filter)
	case KindBelongsToOne:
		row, found, err = e.row.ResolveBelongsToOne(ctx, store.NewBelongsToOne(p.sourceColumn(e.schema), target.table), filter)
	case KindHasOneThrough:
		row, found, err = e.row.ResolveHasOneThrough(ctx, store.HasOneThrough(p.hasMany(e.schema, target)), filter)
	default:
		return nil, fmt.Errorf("%w: property %q is not a to-one relationship", ErrInvalidValue, p.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", e.schema.name, p.Name, err)
	}
	if !found {
		if !p.Nullable {
			return nil, fmt.Errorf("%w: property %q cannot be null", ErrInvalidValue, p.Name)
		}
		return nil, nil
	}
	return Wrap(target, row), nil
}

func (e *Entity) many(ctx context.Context, p *Property, args []any) ([]*Entity, error) {
	target, err := e.target(p)
	if err != nil {
		return nil, err
	}
	filter := p.filter(args)

	var rows []store.Row
	switch p.Kind {
	case KindHasMany:
		rows, err = e.row.ResolveHasMany(ctx, p.hasMany(e.schema, target), filter)
	case KindBelongsToMany:
		rows, err = e.row.ResolveBelongsToMany(ctx, store.NewBelongsToMany(p.sourceColumn(e.schema), target.table), filter)
	default:
		return nil, fmt.Errorf("%w: property %q is not a to-many relationship", ErrInvalidValue, p.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", e.schema.name, p.Name, err)
	}
	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, Wrap(target, row))
	}
	return entities, nil
}

// Set writes a property. Basic values are converted to the declared type. A
// HasOne property accepts a persisted *Entity of the target schema and stores
// its id in the foreign key column; other relationships cannot be set.
func (e *Entity) Set(name string, value any) error {
	p, err := e.property(name)
	if err != nil {
		return err
	}
	if p.ReadOnly {
		return fmt.Errorf("%w: %s.%s", ErrReadOnly, e.schema.name, name)
	}

	if p.Kind.Basic() {
		if value == nil {
			if !p.Nullable {
				return fmt.Errorf("%w: property %q cannot be null", ErrInvalidValue, name)
			}
			return e.row.Set(p.Column, nil)
		}
		converted, err := convert(p.Kind, value)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		return e.row.Set(p.Column, converted)
	}

	if p.Kind != KindHasOne {
		return fmt.Errorf("%w: only has-one properties can be set, %q is %s", store.ErrInvalidState, name, p.Kind)
	}
	target, err := e.target(p)
	if err != nil {
		return err
	}
	column := p.hasOne(target).Column

	if value == nil || value == (*Entity)(nil) {
		if !p.Nullable {
			return fmt.Errorf("%w: property %q cannot be null", ErrInvalidValue, name)
		}
		return e.row.Set(column, nil)
	}
	other, ok := value.(*Entity)
	if !ok {
		return fmt.Errorf("%w: property %q expects *entity.Entity, got %T", ErrInvalidValue, name, value)
	}
	if other.schema != target {
		return fmt.Errorf("%w: property %q expects %s, got %s", ErrInvalidValue, name, target.name, other.schema.name)
	}
	if other.IsDetached() {
		return fmt.Errorf("%w: detached %s must be persisted before use in relationships", ErrInvalidValue, target.name)
	}
	id, err := other.ID()
	if err != nil {
		return err
	}
	return e.row.Set(column, id)
}

// Assign sets every value whose name is in whitelist, or every value when
// whitelist is nil, in name order. It stops at the first error; values set
// before it stay set.
func (e *Entity) Assign(values map[string]any, whitelist []string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		if whitelist == nil || slices.Contains(whitelist, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := e.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Int returns an integer property; null yields 0.
func (e *Entity) Int(name string) (int64, error) {
	return typed[int64](e, name, KindInt)
}

// Float returns a floating point property; null yields 0.
func (e *Entity) Float(name string) (float64, error) {
	return typed[float64](e, name, KindFloat)
}

// String returns a string property; null yields "".
func (e *Entity) String(name string) (string, error) {
	return typed[string](e, name, KindString)
}

// Bool returns a boolean property; null yields false.
func (e *Entity) Bool(name string) (bool, error) {
	return typed[bool](e, name, KindBool)
}

// Time returns a time property; null yields the zero time.
func (e *Entity) Time(name string) (time.Time, error) {
	return typed[time.Time](e, name, KindTime)
}

func typed[T any](e *Entity, name string, kind Kind) (T, error) {
	var zero T
	p, err := e.property(name)
	if err != nil {
		return zero, err
	}
	if p.Kind != kind {
		return zero, fmt.Errorf("%w: property %q is %s, not %s", ErrInvalidValue, name, p.Kind, kind)
	}
	v, err := e.basicValue(p)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

// One resolves a to-one relationship property; nil when absent and nullable.
func (e *Entity) One(ctx context.Context, name string, args ...any) (*Entity, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return e.one(ctx, p, args)
}

// Many resolves a to-many relationship property.
func (e *Entity) Many(ctx context.Context, name string, args ...any) ([]*Entity, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return e.many(ctx, p, args)
}

// IsModified tells whether the entity changed since it was loaded or persisted.
func (e *Entity) IsModified() bool { return e.row.IsModified() }

// IsDetached tells whether the entity is not persisted.
func (e *Entity) IsDetached() bool { return e.row.IsDetached() }

// Detach marks the entity as not persisted.
func (e *Entity) Detach() error { return e.row.Detach() }

// ModifiedData returns the modified columns with their values.
func (e *Entity) ModifiedData() store.Record { return e.row.ModifiedData() }

// MarkClean marks the entity as not modified.
func (e *Entity) MarkClean() { e.row.MarkClean() }

// MarkCreated marks the entity as persisted under id in table.
func (e *Entity) MarkCreated(id int64, table string, conn store.Connection) error {
	row, err := e.row.MarkCreated(id, table, conn)
	if err != nil {
		return err
	}
	e.row = row
	return nil
}
