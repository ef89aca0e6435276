package entity_test

import (
	"errors"
	"testing"

	"github.com/jacentio/leanmap/entity"
	"github.com/jacentio/leanmap/store"
)

func TestNewRegistry(t *testing.T) {
	r := entity.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := entity.NewRegistry()

	if err := r.Register(entity.NewSchema("studio", "studios").Int("id")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s, ok := r.Lookup("studio")
	if !ok {
		t.Fatal("expected studio to be registered")
	}
	if s.Table() != "studios" {
		t.Errorf("expected table 'studios', got %q", s.Table())
	}
	if _, ok := r.Lookup("title"); ok {
		t.Error("expected title to be unknown")
	}
}

func TestRegistry_RegisterRejects(t *testing.T) {
	r := entity.NewRegistry()
	if err := r.Register(entity.NewSchema("studio", "studios")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name   string
		schema *entity.Schema
		want   error
	}{
		{"nil schema", nil, store.ErrInvalidArgument},
		{"duplicate name", entity.NewSchema("studio", "other"), store.ErrInvalidArgument},
		{"declaration error", entity.NewSchema("title", "titles").Nullable(), store.ErrInvalidArgument},
		{"duplicate property", entity.NewSchema("title", "titles").Int("id").String("id"), store.ErrInvalidArgument},
		{"filter on basic property", entity.NewSchema("title", "titles").String("name").Filter(func(*store.Query, ...any) {}), store.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.schema); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegistry_ForeignSchema(t *testing.T) {
	s := entity.NewSchema("studio", "studios")
	if err := entity.NewRegistry().Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := entity.NewRegistry().Register(s); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRegistry_SealedAfterLookup(t *testing.T) {
	r := entity.NewRegistry()
	r.MustRegister(entity.NewSchema("studio", "studios"))

	r.Lookup("studio")

	err := r.Register(entity.NewSchema("title", "titles"))
	if !errors.Is(err, entity.ErrRegistrySealed) {
		t.Errorf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestRegistry_ChildrenOf(t *testing.T) {
	r := entity.NewRegistry()

	// organization <- studio <- title, title also points at a studio as distributor
	r.MustRegister(
		entity.NewSchema("organization", "organizations").Int("id"),
		entity.NewSchema("studio", "studios").Int("id").
			HasOne("organization", "organization").Column("organization_id"),
		entity.NewSchema("title", "titles").Int("id").
			HasOne("studio", "studio").Column("studio_id").
			HasOne("distributor", "studio").Column("distributor_id").Nullable().
			HasOne("rating", "rating"),
	)

	orgChildren := r.ChildrenOf("organizations")
	if len(orgChildren) != 1 {
		t.Fatalf("expected 1 child for organizations, got %d", len(orgChildren))
	}
	if orgChildren[0].Schema != "studio" || orgChildren[0].Column != "organization_id" {
		t.Errorf("unexpected reference %+v", orgChildren[0])
	}

	studioChildren := r.ChildrenOf("studios")
	if len(studioChildren) != 2 {
		t.Fatalf("expected 2 children for studios, got %d", len(studioChildren))
	}
	if studioChildren[0].Property != "studio" || studioChildren[1].Property != "distributor" {
		t.Errorf("expected declaration order, got %+v", studioChildren)
	}
	for _, ref := range studioChildren {
		if ref.Table != "titles" || ref.ParentTable != "studios" {
			t.Errorf("unexpected reference %+v", ref)
		}
	}

	// Unknown targets are not indexed
	if len(r.AllReferences()) != 3 {
		t.Errorf("expected 3 references, got %d", len(r.AllReferences()))
	}

	if len(r.ChildrenOf("titles")) != 0 {
		t.Error("expected no children for titles")
	}
}

func TestRegistry_DefaultColumn(t *testing.T) {
	r := entity.NewRegistry()
	r.MustRegister(
		entity.NewSchema("author", "author").Int("id"),
		entity.NewSchema("book", "book").Int("id").HasOne("author", "author"),
	)

	refs := r.ChildrenOf("author")
	if len(refs) != 1 || refs[0].Column != "author_id" {
		t.Errorf("expected default column author_id, got %+v", refs)
	}
}

func TestRegistry_ReferencesAreCopies(t *testing.T) {
	r := entity.NewRegistry()
	r.MustRegister(
		entity.NewSchema("author", "author").Int("id"),
		entity.NewSchema("book", "book").Int("id").
			HasOne("author", "author").
			HasOne("reviewer", "author").Column("reviewer_id"),
	)

	refs := r.ChildrenOf("author")
	refs[0].Column = "changed"
	_ = append(refs[:1], entity.Reference{Table: "intruder"})

	all := r.AllReferences()
	all[0].Table = "changed"

	again := r.ChildrenOf("author")
	if len(again) != 2 || again[0].Column != "author_id" || again[1].Column != "reviewer_id" {
		t.Errorf("expected registry index to be unchanged, got %+v", again)
	}
	if r.AllReferences()[0].Table != "book" {
		t.Errorf("expected references to be unchanged, got %+v", r.AllReferences())
	}
}

func TestRegistry_HasChildren(t *testing.T) {
	r := entity.NewRegistry()
	r.MustRegister(
		entity.NewSchema("organization", "organizations"),
		entity.NewSchema("studio", "studios").HasOne("organization", "organization"),
	)

	if !r.HasChildren("organizations") {
		t.Error("expected organizations to have children")
	}
	if r.HasChildren("studios") {
		t.Error("expected studios to have no children")
	}
}

func TestRegistry_MustLookupPanics(t *testing.T) {
	r := entity.NewRegistry()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown schema")
		}
	}()
	r.MustLookup("missing")
}

func TestSchema_Properties(t *testing.T) {
	s := entity.NewSchema("book", "book").
		Int("id").ReadOnly().
		String("title").Column("name").
		HasMany("tags", "tag", "").TargetColumn("label_id")

	props := s.Properties()
	if len(props) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(props))
	}
	if props[0].Name != "id" || !props[0].ReadOnly || props[0].Kind != entity.KindInt {
		t.Errorf("unexpected id property %+v", props[0])
	}
	if props[1].Column != "name" {
		t.Errorf("expected column override, got %q", props[1].Column)
	}
	if props[2].Kind != entity.KindHasMany || props[2].JoinTargetColumn != "label_id" {
		t.Errorf("unexpected tags property %+v", props[2])
	}
	if entity.KindHasMany.String() != "hasMany" || entity.Kind(99).String() != "Kind(99)" {
		t.Error("unexpected Kind names")
	}
}
