package graph

import (
	"context"
	"fmt"
)

// NodeCounts returns node counts grouped by label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, res.Err()
}

// TopPassages returns the passages recommended to the most prayers.
func (s *Store) TopPassages(ctx context.Context, limit int) ([]PassageStats, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (p:Prayer)-[:RECOMMENDED]->(:Recommendation)-[:CITES]->(ps:Passage)
RETURN ps.reference AS reference, count(DISTINCT p) AS prayers
ORDER BY prayers DESC, reference LIMIT $limit`, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top passages: %w", err)
	}
	var stats []PassageStats
	for res.Next(ctx) {
		rec := res.Record()
		ref, _ := rec.Get("reference")
		n, _ := rec.Get("prayers")
		st := PassageStats{}
		if r, ok := ref.(string); ok {
			st.Reference = r
		}
		if c, ok := n.(int64); ok {
			st.Prayers = c
		}
		stats = append(stats, st)
	}
	return stats, res.Err()
}
