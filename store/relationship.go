package store

import "fmt"

// Relationship is implemented by the relationship descriptors. Descriptors only
// name tables and columns; they never carry row data.
type Relationship interface {
	// Target returns the table the relationship resolves to.
	Target() string

	// Validate reports ErrInvalidArgument when a required name is missing.
	Validate() error
}

// HasOne is a to-one relationship where the source row holds the foreign key.
type HasOne struct {
	// Column is the source column referencing the target table (e.g., "author_id").
	// Empty means "<TargetTable>_id".
	Column string

	// TargetTable is the referenced table (e.g., "author").
	TargetTable string
}

// NewHasOne returns a HasOne descriptor with the default column filled in.
func NewHasOne(column, targetTable string) HasOne {
	if column == "" {
		column = ViaColumn(targetTable)
	}
	return HasOne{Column: column, TargetTable: targetTable}
}

// Target returns the referenced table.
func (r HasOne) Target() string { return r.TargetTable }

// Validate checks required names.
func (r HasOne) Validate() error {
	if r.TargetTable == "" {
		return fmt.Errorf("%w: has-one relationship without target table", ErrInvalidArgument)
	}
	return nil
}

func (r HasOne) column() string {
	if r.Column == "" {
		return ViaColumn(r.TargetTable)
	}
	return r.Column
}

// BelongsToMany is a to-many relationship where rows of the target table hold a
// foreign key back to the source row (author -> books by book.author_id).
type BelongsToMany struct {
	// ColumnReferencingSource is the target column referencing the source table.
	// Empty means "<source table>_id".
	ColumnReferencingSource string

	// TargetTable is the referencing table.
	TargetTable string
}

// NewBelongsToMany returns a BelongsToMany descriptor.
func NewBelongsToMany(columnReferencingSource, targetTable string) BelongsToMany {
	return BelongsToMany{ColumnReferencingSource: columnReferencingSource, TargetTable: targetTable}
}

// Target returns the referencing table.
func (r BelongsToMany) Target() string { return r.TargetTable }

// Validate checks required names.
func (r BelongsToMany) Validate() error {
	if r.TargetTable == "" {
		return fmt.Errorf("%w: belongs-to-many relationship without target table", ErrInvalidArgument)
	}
	return nil
}

// BelongsToOne is BelongsToMany restricted to at most one referencing row.
type BelongsToOne struct {
	ColumnReferencingSource string
	TargetTable             string
}

// NewBelongsToOne returns a BelongsToOne descriptor.
func NewBelongsToOne(columnReferencingSource, targetTable string) BelongsToOne {
	return BelongsToOne{ColumnReferencingSource: columnReferencingSource, TargetTable: targetTable}
}

// Target returns the referencing table.
func (r BelongsToOne) Target() string { return r.TargetTable }

// Validate checks required names.
func (r BelongsToOne) Validate() error {
	if r.TargetTable == "" {
		return fmt.Errorf("%w: belongs-to-one relationship without target table", ErrInvalidArgument)
	}
	return nil
}

// HasMany is a to-many relationship through a join table (book -> book_tag -> tag).
type HasMany struct {
	// ColumnReferencingSource is the join table column referencing the source table.
	// Empty means "<source table>_id".
	ColumnReferencingSource string

	// RelationshipTable is the join table.
	RelationshipTable string

	// ColumnReferencingTarget is the join table column referencing the target table.
	// Empty means "<TargetTable>_id".
	ColumnReferencingTarget string

	// TargetTable is the table the join rows point at.
	TargetTable string
}

// NewHasMany returns a HasMany descriptor with the target column default filled in.
func NewHasMany(columnReferencingSource, relationshipTable, columnReferencingTarget, targetTable string) HasMany {
	if columnReferencingTarget == "" {
		columnReferencingTarget = ViaColumn(targetTable)
	}
	return HasMany{
		ColumnReferencingSource: columnReferencingSource,
		RelationshipTable:       relationshipTable,
		ColumnReferencingTarget: columnReferencingTarget,
		TargetTable:             targetTable,
	}
}

// Target returns the table the join rows point at.
func (r HasMany) Target() string { return r.TargetTable }

// Validate checks required names.
func (r HasMany) Validate() error {
	if r.TargetTable == "" || r.RelationshipTable == "" {
		return fmt.Errorf("%w: has-many relationship needs target and relationship tables", ErrInvalidArgument)
	}
	return nil
}

func (r HasMany) targetColumn() string {
	if r.ColumnReferencingTarget == "" {
		return ViaColumn(r.TargetTable)
	}
	return r.ColumnReferencingTarget
}

// HasOneThrough is HasMany restricted to at most one target row.
type HasOneThrough HasMany

// NewHasOneThrough returns a HasOneThrough descriptor.
func NewHasOneThrough(columnReferencingSource, relationshipTable, columnReferencingTarget, targetTable string) HasOneThrough {
	return HasOneThrough(NewHasMany(columnReferencingSource, relationshipTable, columnReferencingTarget, targetTable))
}

// Target returns the table the join rows point at.
func (r HasOneThrough) Target() string { return r.TargetTable }

// Validate checks required names.
func (r HasOneThrough) Validate() error { return HasMany(r).Validate() }
