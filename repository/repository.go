// Package repository persists and loads entities of one schema through a
// store.Connection.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/leanmap/entity"
	"github.com/jacentio/leanmap/store"
)

// ErrHasChildren is returned when deleting a row that other rows still reference.
var ErrHasChildren = errors.New("leanmap: entity has referencing rows")

// DeleteOptions configures delete behavior.
type DeleteOptions struct {
	// OrphanProtect fails the delete if rows of any registered schema reference it.
	OrphanProtect bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistry sets the registry consulted for orphan protection.
func WithRegistry(registry *entity.Registry) Option {
	return func(r *Repository) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// Repository loads and persists entities of one schema.
type Repository struct {
	conn     store.Connection
	schema   *entity.Schema
	registry *entity.Registry
	logger   *slog.Logger
}

// New creates a repository for schema. Without WithRegistry it uses the
// registry the schema is registered in, falling back to entity.Default.
func New(conn store.Connection, schema *entity.Schema, opts ...Option) *Repository {
	r := &Repository{
		conn:     conn,
		schema:   schema,
		registry: schema.Registry(),
		logger:   slog.Default(),
	}
	if r.registry == nil {
		r.registry = entity.Default
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the schema handled by the repository.
func (r *Repository) Schema() *entity.Schema { return r.schema }

// Connection returns the underlying connection.
func (r *Repository) Connection() store.Connection { return r.conn }

func (r *Repository) check(e *entity.Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", store.ErrInvalidArgument)
	}
	if e.Schema() != r.schema {
		return fmt.Errorf("%w: repository of %s cannot handle %s",
			store.ErrInvalidArgument, r.schema.Name(), e.Schema().Name())
	}
	return nil
}

// Persist writes the modified fields of e. A detached entity is inserted and
// becomes attached under the new id, which is returned. An attached entity is
// updated and the number of affected rows is returned. Unmodified entities are
// not written.
func (r *Repository) Persist(ctx context.Context, e *entity.Entity) (int64, error) {
	if err := r.check(e); err != nil {
		return 0, err
	}
	if !e.IsModified() {
		return 0, nil
	}
	table := r.schema.Table()
	values := e.ModifiedData()

	if e.IsDetached() {
		id, err := r.conn.Insert(ctx, table, values)
		if err != nil {
			r.logger.Error("failed to insert entity", "table", table, "error", err)
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		if provided, ok := store.ToID(values[store.IDColumn]); ok {
			id = provided
		}
		if err := e.MarkCreated(id, table, r.conn); err != nil {
			return 0, err
		}
		r.logger.Debug("entity inserted", "table", table, "id", id)
		return id, nil
	}

	id, err := e.ID()
	if err != nil {
		return 0, err
	}
	affected, err := r.conn.Update(ctx, table, id, values)
	if err != nil {
		r.logger.Error("failed to update entity", "table", table, "id", id, "error", err)
		return 0, fmt.Errorf("update %s %d: %w", table, id, err)
	}
	e.MarkClean()
	r.logger.Debug("entity updated",
		"table", table,
		"id", id,
		"columns", len(values),
		"affected", affected,
	)
	return affected, nil
}

// Delete removes the row of e and detaches e, so persisting it again inserts
// a new row. Detached entities cannot be deleted.
func (r *Repository) Delete(ctx context.Context, e *entity.Entity, opts DeleteOptions) error {
	if err := r.check(e); err != nil {
		return err
	}
	if e.IsDetached() {
		return fmt.Errorf("%w: cannot delete detached entity", store.ErrInvalidState)
	}
	id, err := e.ID()
	if err != nil {
		return err
	}
	if err := r.DeleteByID(ctx, id, opts); err != nil {
		return err
	}
	return e.Detach()
}

// DeleteByID removes the row with the given id.
func (r *Repository) DeleteByID(ctx context.Context, id int64, opts DeleteOptions) error {
	table := r.schema.Table()
	if opts.OrphanProtect {
		ref, found, err := r.referencedBy(ctx, id)
		if err != nil {
			return err
		}
		if found {
			r.logger.Debug("delete refused",
				"table", table,
				"id", id,
				"child", ref.Table,
				"column", ref.Column,
			)
			return fmt.Errorf("%w: %s %d is referenced by %s.%s", ErrHasChildren, table, id, ref.Table, ref.Column)
		}
	}

	if err := r.conn.Delete(ctx, table, id); err != nil {
		r.logger.Error("failed to delete entity", "table", table, "id", id, "error", err)
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	r.logger.Debug("entity deleted", "table", table, "id", id)
	return nil
}

// referencedBy returns the first reference with a row pointing at id.
func (r *Repository) referencedBy(ctx context.Context, id int64) (entity.Reference, bool, error) {
	for _, ref := range r.registry.ChildrenOf(r.schema.Table()) {
		q := store.NewQuery(ref.Table).Where(ref.Column, store.OpEq, id).Limit(1)
		records, err := r.conn.Fetch(ctx, q)
		if err != nil {
			return entity.Reference{}, false, fmt.Errorf("query children in %s: %w", ref.Table, err)
		}
		if len(records) > 0 {
			return ref, true, nil
		}
	}
	return entity.Reference{}, false, nil
}

// Find loads the entity with the given id.
func (r *Repository) Find(ctx context.Context, id int64) (*entity.Entity, error) {
	table := r.schema.Table()
	records, err := r.conn.Fetch(ctx, store.NewQuery(table).Where(store.IDColumn, store.OpEq, id))
	if err != nil {
		return nil, fmt.Errorf("fetch %s %d: %w", table, id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %d", store.ErrNotFound, table, id)
	}
	return r.CreateEntity(records[0])
}

// FindAll loads every row of the table narrowed by filter (nil for all rows).
// The entities share one Result, so their relationships resolve in batches.
func (r *Repository) FindAll(ctx context.Context, filter store.Filter) ([]*entity.Entity, error) {
	table := r.schema.Table()
	q := store.NewQuery(table)
	if filter != nil {
		filter(q)
	}
	records, err := r.conn.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	return r.CreateEntities(records)
}

// CreateEntity wraps a loaded record in an attached entity.
func (r *Repository) CreateEntity(rec store.Record) (*entity.Entity, error) {
	result, err := store.NewResultFromRecord(rec, r.schema.Table(), r.conn)
	if err != nil {
		return nil, err
	}
	return entity.Wrap(r.schema, result.Rows()[0]), nil
}

// CreateEntities wraps loaded records in attached entities backed by one
// shared Result. Records with duplicate ids yield one entity.
func (r *Repository) CreateEntities(records []store.Record) ([]*entity.Entity, error) {
	result, err := store.NewResult(records, r.schema.Table(), r.conn)
	if err != nil {
		return nil, err
	}
	rows := result.Rows()
	entities := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, entity.Wrap(r.schema, row))
	}
	return entities, nil
}
