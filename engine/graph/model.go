package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/selah-app/selah/engine/domain"
)

// Labels and relationship types of the recommendation graph.
const (
	LabelPrayer         = "Prayer"
	LabelRecommendation = "Recommendation"
	LabelPassage        = "Passage"
	RelRecommended      = "RECOMMENDED"
	RelCites            = "CITES"
)

// PassageStats counts how often a passage has been recommended.
type PassageStats struct {
	Reference string `json:"reference"`
	Prayers   int64  `json:"prayers"`
}

func recommendationToMap(r domain.Recommendation, position int) map[string]any {
	return map[string]any{
		"id":                 r.ID,
		"prayer_id":          r.PrayerID,
		"position":           int64(position),
		"book_name":          r.BookName,
		"chapter_number":     int64(r.ChapterNumber),
		"verse_number_start": int64(r.VerseNumberStart),
		"verse_number_end":   int64(r.VerseNumberEnd),
		"verse_text":         r.VerseText,
		"relevance_score":    r.RelevanceScore,
		"justification":      r.Justification,
		"created_at":         r.CreatedAt.UTC(),
	}
}

func passageToMap(r domain.Recommendation) map[string]any {
	return map[string]any{
		"reference":          r.Reference(),
		"book_name":          r.BookName,
		"chapter_number":     int64(r.ChapterNumber),
		"verse_number_start": int64(r.VerseNumberStart),
		"verse_number_end":   int64(r.VerseNumberEnd),
	}
}

func recommendationFromRecord(rec *neo4j.Record) (domain.Recommendation, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Recommendation{}, err
	}
	return recommendationFromProps(node.Props), nil
}

func recommendationFromProps(props map[string]any) domain.Recommendation {
	r := domain.Recommendation{
		ID:               strProp(props, "id"),
		PrayerID:         strProp(props, "prayer_id"),
		BookName:         strProp(props, "book_name"),
		ChapterNumber:    intProp(props, "chapter_number"),
		VerseNumberStart: intProp(props, "verse_number_start"),
		VerseNumberEnd:   intProp(props, "verse_number_end"),
		VerseText:        strProp(props, "verse_text"),
		Justification:    strProp(props, "justification"),
	}
	if f, ok := props["relevance_score"].(float64); ok {
		r.RelevanceScore = f
	}
	switch at := props["created_at"].(type) {
	case time.Time:
		r.CreatedAt = at.UTC()
	case string:
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	return r
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
