package entity

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jacentio/leanmap/store"
)

// Reference is a foreign key from a child table to a parent table, derived from
// a HasOne property of the child schema.
type Reference struct {
	// Schema is the child schema name (e.g., "book").
	Schema string

	// Property is the HasOne property declaring the reference (e.g., "author").
	Property string

	// Table is the child table (e.g., "book").
	Table string

	// Column is the child column referencing the parent id (e.g., "author_id").
	Column string

	// ParentTable is the referenced table (e.g., "author").
	ParentTable string
}

// Registry holds the schemas of an application. Schemas are registered during
// start-up; the first lookup seals the registry, after which it is read-only and
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	seal    sync.Once
	sealed  bool
	schemas map[string]*Schema
	order   []string

	references []Reference
	byParent   map[string][]Reference
}

// Default is the process-wide registry used by Register.
var Default = NewRegistry()

// Register adds a schema to the Default registry.
func Register(s *Schema) error {
	return Default.Register(s)
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:  make(map[string]*Schema),
		byParent: make(map[string][]Reference),
	}
}

// Register adds a schema to the registry.
// This should be called during start-up for each entity type.
func (r *Registry) Register(s *Schema) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", store.ErrInvalidArgument)
	}
	if err := s.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, s.name)
	}
	if _, dup := r.schemas[s.name]; dup {
		return fmt.Errorf("%w: schema %q already registered", store.ErrInvalidArgument, s.name)
	}
	if s.registry != nil && s.registry != r {
		return fmt.Errorf("%w: schema %q belongs to another registry", store.ErrInvalidArgument, s.name)
	}
	s.registry = r
	r.schemas[s.name] = s
	r.order = append(r.order, s.name)
	return nil
}

// MustRegister is Register that panics on error, for package initialisation.
func (r *Registry) MustRegister(schemas ...*Schema) {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	r.sealOnce()
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// MustLookup is Lookup that panics when name is not registered.
func (r *Registry) MustLookup(name string) *Schema {
	s, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("leanmap: schema %q is not registered", name))
	}
	return s
}

// ChildrenOf returns every reference pointing at table.
func (r *Registry) ChildrenOf(table string) []Reference {
	r.sealOnce()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byParent[table])
}

// AllReferences returns every reference between registered schemas.
func (r *Registry) AllReferences() []Reference {
	r.sealOnce()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.references)
}

// HasChildren returns true if any registered schema references table.
func (r *Registry) HasChildren(table string) bool {
	return len(r.ChildrenOf(table)) > 0
}

// sealOnce closes the registry for registration and indexes references.
// HasOne properties with an unregistered target are left out of the index;
// resolving them fails at access time.
func (r *Registry) sealOnce() {
	r.seal.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sealed = true

		for _, name := range r.order {
			s := r.schemas[name]
			for _, p := range s.Properties() {
				if p.Kind != KindHasOne {
					continue
				}
				target, ok := r.schemas[p.Target]
				if !ok {
					continue
				}
				rel := p.hasOne(target)
				ref := Reference{
					Schema:      s.name,
					Property:    p.Name,
					Table:       s.table,
					Column:      rel.Column,
					ParentTable: target.table,
				}
				r.references = append(r.references, ref)
				r.byParent[target.table] = append(r.byParent[target.table], ref)
			}
		}
	})
}
