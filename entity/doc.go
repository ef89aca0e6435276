// Package entity maps rows of a store.Result to typed entities described by
// schemas.
//
// A Schema names the table of an entity type and declares its properties:
// basic columns (Int, Float, String, Bool, Time) and relationships (HasOne,
// HasMany, HasOneThrough, BelongsToOne, BelongsToMany) to other schemas by
// name. Schemas are registered in a Registry, usually Default, during start-up.
// The first lookup seals the registry.
//
// An Entity wraps a store.Row. Reading a relationship property resolves it
// through the row's Result, so entities loaded together (for example by
// repository.FindAll) share one query per relationship.
package entity
