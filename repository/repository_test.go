package repository_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jacentio/leanmap/entity"
	"github.com/jacentio/leanmap/repository"
	"github.com/jacentio/leanmap/store"
	"github.com/jacentio/leanmap/store/storetest"
)

// --- Helpers ---

type library struct {
	registry *entity.Registry
	mem      *storetest.Memory
	authors  *repository.Repository
	books    *repository.Repository
}

func newLibrary(t *testing.T, opts ...repository.Option) *library {
	t.Helper()
	reg := entity.NewRegistry()
	reg.MustRegister(
		entity.NewSchema("author", "author").
			Int("id").ReadOnly().
			String("name").
			BelongsToMany("books", "book"),
		entity.NewSchema("book", "book").
			Int("id").ReadOnly().
			String("title").
			HasOne("author", "author"),
	)

	mem := storetest.NewMemory()
	mem.Seed("author",
		store.Record{"id": int64(10), "name": "Alan Donovan"},
		store.Record{"id": int64(11), "name": "Brian Kernighan"},
		store.Record{"id": int64(12), "name": "Rob Pike"},
	)
	mem.Seed("book",
		store.Record{"id": int64(1), "title": "The Go Programming Language", "author_id": int64(10)},
		store.Record{"id": int64(2), "title": "The C Programming Language", "author_id": int64(11)},
		store.Record{"id": int64(3), "title": "The AWK Programming Language", "author_id": int64(11)},
	)

	return &library{
		registry: reg,
		mem:      mem,
		authors:  repository.New(mem, reg.MustLookup("author"), opts...),
		books:    repository.New(mem, reg.MustLookup("book"), opts...),
	}
}

// --- Find ---

func TestFind(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	book, err := lib.books.Find(ctx, 2)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if title, _ := book.String("title"); title != "The C Programming Language" {
		t.Errorf("unexpected title %q", title)
	}
	if book.IsDetached() {
		t.Error("expected loaded entity to be attached")
	}

	if _, err := lib.books.Find(ctx, 99); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindAll_SharesResult(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	books, err := lib.books.FindAll(ctx, func(q *store.Query) { q.OrderBy("title") })
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("expected 3 books, got %d", len(books))
	}
	if title, _ := books[0].String("title"); title != "The AWK Programming Language" {
		t.Errorf("expected ordered results, got %q first", title)
	}

	for _, b := range books {
		if _, err := b.One(ctx, "author"); err != nil {
			t.Fatalf("One: %v", err)
		}
	}
	if n := lib.mem.FetchCountFor("author"); n != 1 {
		t.Errorf("expected one author query, got %d", n)
	}
}

func TestFindAll_Filter(t *testing.T) {
	lib := newLibrary(t)

	books, err := lib.books.FindAll(context.Background(), func(q *store.Query) {
		q.Where("author_id", store.OpEq, int64(11))
	})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(books) != 2 {
		t.Errorf("expected 2 books, got %d", len(books))
	}
}

func TestFindAll_FetchError(t *testing.T) {
	lib := newLibrary(t)
	lib.mem.FailFetch = errors.New("connection reset")

	if _, err := lib.books.FindAll(context.Background(), nil); err == nil {
		t.Error("expected error")
	}
}

// --- Persist ---

func TestPersist_InsertsDetached(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	author, _ := lib.authors.Find(ctx, 12)
	book := entity.New(lib.books.Schema())
	if err := book.Set("title", "The Practice of Programming"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := book.Set("author", author); err != nil {
		t.Fatalf("Set: %v", err)
	}

	id, err := lib.books.Persist(ctx, book)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if id != 4 {
		t.Errorf("expected id 4, got %d", id)
	}
	if book.IsDetached() || book.IsModified() {
		t.Error("expected persisted clean entity")
	}
	if got, _ := book.ID(); got != 4 {
		t.Errorf("expected entity id 4, got %d", got)
	}

	// The new entity resolves relationships through the repository connection.
	resolved, err := book.One(ctx, "author")
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	if name, _ := resolved.String("name"); name != "Rob Pike" {
		t.Errorf("expected Rob Pike, got %q", name)
	}

	stored := lib.mem.Rows("book")
	if len(stored) != 4 || stored[3]["title"] != "The Practice of Programming" || stored[3]["author_id"] != int64(12) {
		t.Errorf("unexpected stored rows %v", stored)
	}
}

func TestPersist_UpdatesAttached(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	book, _ := lib.books.Find(ctx, 1)
	n, err := lib.books.Persist(ctx, book)
	if err != nil || n != 0 {
		t.Errorf("expected unmodified entity to be skipped, got %d, %v", n, err)
	}

	if err := book.Set("title", "The Go Programming Language (2nd ed.)"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err = lib.books.Persist(ctx, book)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 affected row, got %d", n)
	}
	if book.IsModified() {
		t.Error("expected entity to be clean after update")
	}
	if lib.mem.Rows("book")[0]["title"] != "The Go Programming Language (2nd ed.)" {
		t.Errorf("expected stored title to change, got %v", lib.mem.Rows("book")[0])
	}
}

func TestPersist_WrongSchema(t *testing.T) {
	lib := newLibrary(t)

	author := entity.New(lib.authors.Schema())
	author.Set("name", "Ken Thompson")
	if _, err := lib.books.Persist(context.Background(), author); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := lib.books.Persist(context.Background(), nil); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for nil, got %v", err)
	}
}

func TestPersist_DetachedRoundTrip(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	book, _ := lib.books.Find(ctx, 3)
	if err := lib.books.Delete(ctx, book, repository.DeleteOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !book.IsDetached() {
		t.Fatal("expected deleted entity to be detached")
	}

	id, err := lib.books.Persist(ctx, book)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if id != 3 {
		t.Errorf("expected the row to be reinserted under id 3, got %d", id)
	}
	if len(lib.mem.Rows("book")) != 3 {
		t.Errorf("expected 3 books after reinsertion, got %d", len(lib.mem.Rows("book")))
	}
}

// --- Delete ---

func TestDelete(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	book, _ := lib.books.Find(ctx, 1)
	if err := lib.books.Delete(ctx, book, repository.DeleteOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := lib.books.Find(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected deleted book to be gone, got %v", err)
	}

	if err := lib.books.Delete(ctx, entity.New(lib.books.Schema()), repository.DeleteOptions{}); !errors.Is(err, store.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for detached entity, got %v", err)
	}
}

func TestDelete_OrphanProtect(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	protect := repository.DeleteOptions{OrphanProtect: true}

	kernighan, _ := lib.authors.Find(ctx, 11)
	err := lib.authors.Delete(ctx, kernighan, protect)
	if !errors.Is(err, repository.ErrHasChildren) {
		t.Fatalf("expected ErrHasChildren, got %v", err)
	}
	if kernighan.IsDetached() {
		t.Error("expected refused delete to leave entity attached")
	}

	// Pike has no books
	if err := lib.authors.DeleteByID(ctx, 12, protect); err != nil {
		t.Errorf("expected delete of unreferenced author, got %v", err)
	}

	// Without protection the reference is ignored
	if err := lib.authors.Delete(ctx, kernighan, repository.DeleteOptions{}); err != nil {
		t.Errorf("expected unprotected delete to succeed, got %v", err)
	}
	if n := len(lib.mem.Rows("author")); n != 1 {
		t.Errorf("expected 1 author left, got %d", n)
	}
}

func TestDelete_OrphanProtectFetchError(t *testing.T) {
	lib := newLibrary(t)
	lib.mem.FailFetch = errors.New("timeout")

	err := lib.authors.DeleteByID(context.Background(), 10, repository.DeleteOptions{OrphanProtect: true})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected fetch error, got %v", err)
	}
}

// --- CreateEntities ---

func TestCreateEntities(t *testing.T) {
	lib := newLibrary(t)

	books, err := lib.books.CreateEntities([]store.Record{
		{"id": int64(7), "title": "a", "author_id": int64(10)},
		{"id": int64(8), "title": "b", "author_id": int64(11)},
		{"id": int64(7), "title": "a again", "author_id": int64(10)},
	})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if len(books) != 2 {
		t.Errorf("expected duplicate ids to collapse, got %d entities", len(books))
	}
	if books[0].Row().Result() != books[1].Row().Result() {
		t.Error("expected entities to share one Result")
	}

	if _, err := lib.books.CreateEntity(store.Record{"id": "seven"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// --- Logging ---

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lib := newLibrary(t, repository.WithLogger(logger))
	ctx := context.Background()

	if err := lib.books.DeleteByID(ctx, 1, repository.DeleteOptions{}); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if !strings.Contains(buf.String(), "entity deleted") || !strings.Contains(buf.String(), "table=book") {
		t.Errorf("expected delete to be logged, got %q", buf.String())
	}
}

func TestWithRegistry(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	// An empty registry knows no references, so nothing protects the author.
	authors := repository.New(lib.mem, lib.authors.Schema(), repository.WithRegistry(entity.NewRegistry()))
	if err := authors.DeleteByID(ctx, 11, repository.DeleteOptions{OrphanProtect: true}); err != nil {
		t.Errorf("expected delete without known references, got %v", err)
	}
}
