//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_SaveListDelete(t *testing.T) {
	store := New(testDriver(t), "")
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	recs := sampleRecs()
	if err := store.SaveRecommendations(ctx, "p1", recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := store.SaveRecommendations(ctx, "p1", recs); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := store.ListRecommendations(ctx, "p1")
	if err != nil || len(got) != 2 || got[0].ID != "r1" {
		t.Fatalf("list: %v %v", got, err)
	}
	top, err := store.TopPassages(ctx, 5)
	if err != nil || len(top) != 2 {
		t.Fatalf("top: %v %v", top, err)
	}
	n, err := store.DeleteRecommendations(ctx, "p1")
	if err != nil || n != 2 {
		t.Fatalf("delete: %d %v", n, err)
	}
}
