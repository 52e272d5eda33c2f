// Package graph mirrors saved recommendation sets into Neo4j as
//
//	(:Prayer)-[:RECOMMENDED {score}]->(:Recommendation)-[:CITES]->(:Passage)
//
// so that passages can be queried across prayers.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/repo"
)

const listCypher = `MATCH (:Prayer {id: $prayer_id})-[:RECOMMENDED]->(n:Recommendation)
RETURN n ORDER BY n.position`

// Store writes and reads the recommendation graph.
type Store struct {
	opener SessionOpener
	recs   *repo.Neo4jRepo[domain.Recommendation, string]
}

// New creates a Store on a live driver. database may be empty for the
// server default.
func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{
		opener: driverOpener{driver: driver, database: database},
		recs: repo.NewNeo4jRepo[domain.Recommendation, string](
			driver,
			LabelRecommendation,
			func(r domain.Recommendation) map[string]any { return recommendationToMap(r, 0) },
			recommendationFromRecord,
			repo.WithDatabase[domain.Recommendation, string](database),
		),
	}
}

// NewWithOpener creates a Store that opens every session through o.
func NewWithOpener(o SessionOpener) *Store {
	return &Store{opener: o}
}

var schemaStatements = []string{
	`CREATE CONSTRAINT prayer_id IF NOT EXISTS FOR (p:Prayer) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT recommendation_id IF NOT EXISTS FOR (r:Recommendation) REQUIRE r.id IS UNIQUE`,
	`CREATE CONSTRAINT passage_reference IF NOT EXISTS FOR (p:Passage) REQUIRE p.reference IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints the writes rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	for _, stmt := range schemaStatements {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRecommendations replaces the prayer's recommendations in one write
// transaction.
func (s *Store) SaveRecommendations(ctx context.Context, prayerID string, recs []domain.Recommendation) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (p:Prayer {id: $prayer_id})
WITH p
OPTIONAL MATCH (p)-[:RECOMMENDED]->(old:Recommendation)
DETACH DELETE old`, map[string]any{"prayer_id": prayerID}); err != nil {
			return nil, err
		}
		for i, r := range recs {
			if _, err := tx.Run(ctx, `MATCH (p:Prayer {id: $prayer_id})
CREATE (p)-[:RECOMMENDED {score: $score}]->(n:Recommendation)
SET n = $props
MERGE (ps:Passage {reference: $passage.reference})
SET ps += $passage
MERGE (n)-[:CITES]->(ps)`, map[string]any{
				"prayer_id": prayerID,
				"score":     r.RelevanceScore,
				"props":     recommendationToMap(r, i),
				"passage":   passageToMap(r),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: save %s: %w", prayerID, err)
	}
	return nil
}

// DeleteRecommendations removes the prayer node and its recommendations.
// Passage nodes stay.
func (s *Store) DeleteRecommendations(ctx context.Context, prayerID string) (int, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	n, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		res, err := tx.Run(ctx, `MATCH (p:Prayer {id: $prayer_id})
OPTIONAL MATCH (p)-[:RECOMMENDED]->(n:Recommendation)
WITH p, collect(n) AS recs
FOREACH (r IN recs | DETACH DELETE r)
DETACH DELETE p
RETURN size(recs) AS deleted`, map[string]any{"prayer_id": prayerID})
		if err != nil {
			return 0, err
		}
		if !res.Next(ctx) {
			return 0, res.Err()
		}
		v, _ := res.Record().Get("deleted")
		deleted, _ := v.(int64)
		return int(deleted), nil
	})
	if err != nil {
		return 0, fmt.Errorf("graph: delete %s: %w", prayerID, err)
	}
	count, _ := n.(int)
	return count, nil
}

// ListRecommendations returns the prayer's mirrored recommendations in
// saved order.
func (s *Store) ListRecommendations(ctx context.Context, prayerID string) ([]domain.Recommendation, error) {
	params := map[string]any{"prayer_id": prayerID}
	if s.recs != nil {
		out, err := s.recs.Query(ctx, listCypher, params)
		if err != nil {
			return nil, fmt.Errorf("graph: list %s: %w", prayerID, err)
		}
		return out, nil
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, listCypher, params)
	if err != nil {
		return nil, fmt.Errorf("graph: list %s: %w", prayerID, err)
	}
	var out []domain.Recommendation
	for res.Next(ctx) {
		r, err := recommendationFromRecord(res.Record())
		if err != nil {
			return nil, fmt.Errorf("graph: list %s: %w", prayerID, err)
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graph: list %s: %w", prayerID, err)
	}
	return out, nil
}
