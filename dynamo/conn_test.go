package dynamo_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/leanmap/dynamo"
	"github.com/jacentio/leanmap/dynamo/dynamotest"
	"github.com/jacentio/leanmap/store"
)

var errThrottled = errors.New("throttled")

func seedBooks(t *testing.T, f *dynamotest.Client) {
	t.Helper()
	f.Seed("book",
		map[string]any{"id": 1, "title": "The Go Programming Language", "author_id": 10, "price": 39.5},
		map[string]any{"id": 2, "title": "Concurrency in Go", "author_id": 11, "price": 29},
		map[string]any{"id": 3, "title": "Learning Go", "author_id": 12, "price": nil},
		map[string]any{"id": 4, "title": "Go in Practice", "author_id": 10, "price": 35},
	)
}

func ids(records []store.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, rec := range records {
		out = append(out, rec["id"].(int64))
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Config ---

func TestNew_ValidatesConfig(t *testing.T) {
	conn := dynamo.New(dynamotest.NewClient(), dynamo.Config{BatchSize: 500})
	cfg := conn.Config()

	if cfg.BatchSize != dynamo.MaxBatchSize {
		t.Errorf("expected BatchSize clamped to %d, got %d", dynamo.MaxBatchSize, cfg.BatchSize)
	}
	if cfg.CounterTable != "leanmap_counters" {
		t.Errorf("expected default counter table, got %q", cfg.CounterTable)
	}
	if cfg.TTLAttribute != "ttl" {
		t.Errorf("expected default TTL attribute, got %q", cfg.TTLAttribute)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := dynamo.DefaultConfig()
	if cfg.BatchSize != 100 || cfg.SoftDelete {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

// --- Fetch ---

func TestFetch_IDLookupUsesBatchGet(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	q := store.NewQuery("book").In("id", []any{int64(3), int64(1), int64(99), int64(3)})
	records, err := conn.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got := ids(records); !equalIDs(got, []int64{3, 1}) {
		t.Errorf("expected ids [3 1] in request order, got %v", got)
	}
	if len(f.BatchGets) != 1 || len(f.Scans) != 0 {
		t.Errorf("expected 1 BatchGetItem and no Scan, got %d and %d", len(f.BatchGets), len(f.Scans))
	}
	if keys := f.BatchGets[0].RequestItems["book"].Keys; len(keys) != 3 {
		t.Errorf("expected duplicate ids to be dropped, got %d keys", len(keys))
	}
}

func TestFetch_BatchGetChunks(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.Config{BatchSize: 2})

	q := store.NewQuery("book").In("id", []any{int64(1), int64(2), int64(3), int64(4), int64(5)})
	records, err := conn.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(f.BatchGets) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(f.BatchGets))
	}
	if got := ids(records); !equalIDs(got, []int64{1, 2, 3, 4}) {
		t.Errorf("expected [1 2 3 4], got %v", got)
	}
}

func TestFetch_RetriesUnprocessedKeys(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	f.Unprocessed = true
	conn := dynamo.New(f, dynamo.DefaultConfig())

	records, err := conn.Fetch(context.Background(), store.NewQuery("book").In("id", []any{int64(1), int64(2)}))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(f.BatchGets) != 2 {
		t.Errorf("expected a retry for unprocessed keys, got %d calls", len(f.BatchGets))
	}
	if got := ids(records); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
}

func TestFetch_ScanFiltersAndArranges(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	q := store.NewQuery("book").In("author_id", []any{int64(10)}).OrderBy("title")
	records, err := conn.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got := ids(records); !equalIDs(got, []int64{4, 1}) {
		t.Errorf("expected [4 1] ordered by title, got %v", got)
	}
	if len(f.Scans) != 1 {
		t.Fatalf("expected 1 Scan, got %d", len(f.Scans))
	}
	in := f.Scans[0]
	if got := aws.ToString(in.FilterExpression); got != "(#c0 IN (:v0_0))" {
		t.Errorf("unexpected filter expression %q", got)
	}
	if in.ExpressionAttributeNames["#c0"] != "author_id" {
		t.Errorf("expected #c0 -> author_id, got %v", in.ExpressionAttributeNames)
	}
}

func TestFetch_ScanPaginates(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	f.PageSize = 3
	conn := dynamo.New(f, dynamo.DefaultConfig())

	records, err := conn.Fetch(context.Background(), store.NewQuery("book").Where("price", store.OpNotNull, nil))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(f.Scans) != 2 {
		t.Errorf("expected 2 pages, got %d", len(f.Scans))
	}
	if got := ids(records); !equalIDs(got, []int64{1, 2, 4}) {
		t.Errorf("expected [1 2 4], got %v", got)
	}
}

func TestFetch_EmptyInSkipsRequest(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	records, err := conn.Fetch(context.Background(), store.NewQuery("book").In("author_id", []any{}))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 0 || len(f.Scans) != 0 {
		t.Errorf("expected no records and no Scan, got %d records, %d scans", len(records), len(f.Scans))
	}
}

func TestFetch_DecodesNumbers(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	records, err := conn.Fetch(context.Background(), store.NewQuery("book").In("id", []any{int64(1), int64(2), int64(3)}))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, ok := records[0]["author_id"].(int64); !ok || v != 10 {
		t.Errorf("expected int64 author_id 10, got %T %v", records[0]["author_id"], records[0]["author_id"])
	}
	if v, ok := records[0]["price"].(float64); !ok || v != 39.5 {
		t.Errorf("expected float64 price 39.5, got %T %v", records[0]["price"], records[0]["price"])
	}
	if v, ok := records[1]["price"].(int64); !ok || v != 29 {
		t.Errorf("expected integral price as int64, got %T %v", records[1]["price"], records[1]["price"])
	}
	if records[2]["price"] != nil {
		t.Errorf("expected NULL price to decode as nil, got %v", records[2]["price"])
	}
	if _, ok := records[0]["title"].(string); !ok {
		t.Errorf("expected string title, got %T", records[0]["title"])
	}
}

func TestFetch_SoftDeleteSkipsExpired(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	f.Seed("book", map[string]any{"id": 5, "title": "Gone", "author_id": 10, "ttl": time.Now().Add(-time.Minute).Unix()})
	f.Seed("book", map[string]any{"id": 6, "title": "Going", "author_id": 10, "ttl": time.Now().Add(time.Hour).Unix()})
	conn := dynamo.New(f, dynamo.Config{SoftDelete: true})
	ctx := context.Background()

	records, err := conn.Fetch(ctx, store.NewQuery("book").Where("author_id", store.OpEq, 10))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := ids(records); !equalIDs(got, []int64{1, 4, 6}) {
		t.Errorf("expected [1 4 6], got %v", got)
	}
	if filter := aws.ToString(f.Scans[0].FilterExpression); !strings.Contains(filter, "#ttl > :now") {
		t.Errorf("expected TTL filter in scan, got %q", filter)
	}

	records, _ = conn.Fetch(ctx, store.NewQuery("book").In("id", []any{int64(5), int64(6)}))
	if got := ids(records); !equalIDs(got, []int64{6}) {
		t.Errorf("expected batch path to skip expired items, got %v", got)
	}
}

func TestFetch_Error(t *testing.T) {
	f := dynamotest.NewClient()
	f.FailWith = errThrottled
	conn := dynamo.New(f, dynamo.DefaultConfig())

	_, err := conn.Fetch(context.Background(), store.NewQuery("book"))
	if !errors.Is(err, errThrottled) {
		t.Errorf("expected wrapped client error, got %v", err)
	}
}

// --- Render ---

func TestRender(t *testing.T) {
	conn := dynamo.New(dynamotest.NewClient(), dynamo.Config{SoftDelete: true})

	batch, err := conn.Render(store.NewQuery("author").In("id", []any{int64(10), int64(11)}))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if batch != "BatchGetItem author id IN [10 11]" {
		t.Errorf("unexpected batch rendering %q", batch)
	}

	q := func() *store.Query {
		return store.NewQuery("book").In("author_id", []any{int64(10)}).Where("title", store.OpEq, "x").OrderByDesc("title").Limit(2)
	}
	first, _ := conn.Render(q())
	second, _ := conn.Render(q())
	if first != second {
		t.Errorf("expected stable rendering, got %q and %q", first, second)
	}
	if strings.Contains(first, "ttl") {
		t.Errorf("expected rendering without TTL filter, got %q", first)
	}
	if !strings.HasSuffix(first, "ORDER BY title DESC LIMIT 2") {
		t.Errorf("expected order and limit in rendering, got %q", first)
	}

	other, _ := conn.Render(store.NewQuery("book").In("author_id", []any{int64(10)}).Where("title", store.OpEq, "y"))
	if other == first {
		t.Error("expected different filters to render differently")
	}
}

// --- Insert ---

func TestInsert_UsesCounter(t *testing.T) {
	f := dynamotest.NewClient()
	conn := dynamo.New(f, dynamo.DefaultConfig())
	ctx := context.Background()

	first, err := conn.Insert(ctx, "author", store.Record{"name": "Rob"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second, err := conn.Insert(ctx, "author", store.Record{"name": "Ken"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if first != 1 || second != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", first, second)
	}
	if aws.ToString(f.Updates[0].TableName) != "leanmap_counters" {
		t.Errorf("expected counter update, got table %q", aws.ToString(f.Updates[0].TableName))
	}
	if len(f.Txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(f.Txs))
	}
	t1, t2 := aws.ToString(f.Txs[0].ClientRequestToken), aws.ToString(f.Txs[1].ClientRequestToken)
	if t1 == "" || t1 == t2 {
		t.Errorf("expected distinct client request tokens, got %q and %q", t1, t2)
	}
	if cond := aws.ToString(f.Txs[0].TransactItems[0].Put.ConditionExpression); cond != "attribute_not_exists(id)" {
		t.Errorf("unexpected put condition %q", cond)
	}

	records, _ := conn.Fetch(ctx, store.NewQuery("author").In("id", []any{int64(2)}))
	if len(records) != 1 || records[0]["name"] != "Ken" {
		t.Errorf("expected inserted item to be readable, got %v", records)
	}
}

func TestInsert_ProvidedID(t *testing.T) {
	f := dynamotest.NewClient()
	conn := dynamo.New(f, dynamo.DefaultConfig())

	id, err := conn.Insert(context.Background(), "author", store.Record{"id": int64(42), "name": "Rob"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
	if len(f.Updates) != 0 {
		t.Errorf("expected no counter update, got %d", len(f.Updates))
	}
}

func TestInsert_Conflict(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	_, err := conn.Insert(context.Background(), "book", store.Record{"id": int64(1), "title": "dup"})
	if !errors.Is(err, dynamo.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsert_InvalidID(t *testing.T) {
	conn := dynamo.New(dynamotest.NewClient(), dynamo.DefaultConfig())

	_, err := conn.Insert(context.Background(), "book", store.Record{"id": "abc"})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// --- Update ---

func TestUpdate(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())
	ctx := context.Background()

	n, err := conn.Update(ctx, "book", 2, store.Record{"id": int64(2), "title": "Concurrency in Go, 2nd ed.", "price": 31})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 affected, got %d", n)
	}
	in := f.Updates[0]
	if got := aws.ToString(in.UpdateExpression); got != "SET #a0 = :v0, #a1 = :v1" {
		t.Errorf("unexpected update expression %q", got)
	}
	if in.ExpressionAttributeNames["#a0"] != "price" || in.ExpressionAttributeNames["#a1"] != "title" {
		t.Errorf("expected sorted columns without id, got %v", in.ExpressionAttributeNames)
	}

	records, _ := conn.Fetch(ctx, store.NewQuery("book").In("id", []any{int64(2)}))
	if records[0]["title"] != "Concurrency in Go, 2nd ed." {
		t.Errorf("expected updated title, got %v", records[0]["title"])
	}
}

func TestUpdate_Missing(t *testing.T) {
	f := dynamotest.NewClient()
	conn := dynamo.New(f, dynamo.DefaultConfig())

	n, err := conn.Update(context.Background(), "book", 99, store.Record{"title": "x"})
	if err != nil {
		t.Fatalf("expected condition failure to be swallowed, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 affected, got %d", n)
	}
}

func TestUpdate_NothingToWrite(t *testing.T) {
	f := dynamotest.NewClient()
	conn := dynamo.New(f, dynamo.DefaultConfig())

	n, err := conn.Update(context.Background(), "book", 1, store.Record{"id": int64(1)})
	if err != nil || n != 0 {
		t.Errorf("expected 0, nil; got %d, %v", n, err)
	}
	if len(f.Updates) != 0 {
		t.Errorf("expected no request, got %d", len(f.Updates))
	}
}

// --- Delete ---

func TestDelete_Hard(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.DefaultConfig())

	if err := conn.Delete(context.Background(), "book", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.Deletes) != 1 || len(f.Tables["book"]) != 3 {
		t.Errorf("expected item to be removed, got %d deletes and %d items", len(f.Deletes), len(f.Tables["book"]))
	}
}

func TestDelete_Soft(t *testing.T) {
	f := dynamotest.NewClient()
	seedBooks(t, f)
	conn := dynamo.New(f, dynamo.Config{SoftDelete: true})
	ctx := context.Background()

	if err := conn.Delete(ctx, "book", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.Deletes) != 0 {
		t.Errorf("expected no DeleteItem, got %d", len(f.Deletes))
	}
	if _, ok := f.Tables["book"][0]["ttl"].(*types.AttributeValueMemberN); !ok {
		t.Fatal("expected TTL attribute to be set")
	}

	// Already deleted: the condition fails and is ignored.
	if err := conn.Delete(ctx, "book", 1); err != nil {
		t.Errorf("expected repeated soft delete to succeed, got %v", err)
	}

	records, _ := conn.Fetch(ctx, store.NewQuery("book").In("id", []any{int64(1), int64(2)}))
	if got := ids(records); !equalIDs(got, []int64{2}) {
		t.Errorf("expected soft-deleted item to be hidden, got %v", got)
	}

	n, err := conn.Update(ctx, "book", 1, store.Record{"title": "revived"})
	if err != nil || n != 0 {
		t.Errorf("expected update of deleted item to affect 0 rows, got %d, %v", n, err)
	}
}
