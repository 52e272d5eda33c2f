//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(qdrantAddr(), collection, DialOpts{APIKey: os.Getenv("QDRANT_API_KEY")})
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func TestQdrant_EnsureCollection(t *testing.T) {
	vs := testStore(t, "selah_test_ensure")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
}

func TestQdrant_TenantScopedSearch(t *testing.T) {
	vs := testStore(t, "selah_test_tenant")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	records := []VectorRecord{
		{ID: "a1111111-1111-1111-1111-111111111111", Embedding: []float32{1, 0, 0, 0}, Payload: map[string]any{TextKey: "The LORD is my shepherd", TenantKey: "bsb"}},
		{ID: "b2222222-2222-2222-2222-222222222222", Embedding: []float32{0, 1, 0, 0}, Payload: map[string]any{TextKey: "In the beginning", TenantKey: "bsb"}},
		{ID: "c3333333-3333-3333-3333-333333333333", Embedding: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{TextKey: "The Lord is my shepherd", TenantKey: "kjv"}},
	}
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := vs.SearchFiltered(ctx, []float32{1, 0, 0, 0}, 10, map[string]string{TenantKey: "bsb"})
	if err != nil {
		t.Fatalf("SearchFiltered: %v", err)
	}
	if len(results) != 2 || results[0].Content != "The LORD is my shepherd" {
		t.Fatalf("results = %+v", results)
	}

	if err := vs.DeleteByTenant(ctx, "kjv"); err != nil {
		t.Fatalf("DeleteByTenant: %v", err)
	}
	results, err = vs.Search(ctx, []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected kjv points gone, got %d results", len(results))
	}
}
