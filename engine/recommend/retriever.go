package recommend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/semantic"
)

// DefaultTopK is the default search width.
const DefaultTopK = 6

// Searcher is the read side of *semantic.Index.
type Searcher interface {
	SimilaritySearchWithScore(ctx context.Context, text string, k int) ([]semantic.ScoredDocument, error)
}

// Retriever runs the top-K similarity search for a query.
type Retriever struct {
	k int
}

// NewRetriever creates a Retriever returning at most k candidates.
func NewRetriever(k int) (*Retriever, error) {
	if err := domain.ValidateTopK(k); err != nil {
		return nil, err
	}
	return &Retriever{k: k}, nil
}

// K returns the search width.
func (r *Retriever) K() int { return r.k }

// Retrieve searches ix for q.SearchText. Candidates keep the index order and
// never exceed K.
func (r *Retriever) Retrieve(ctx context.Context, ix Searcher, q domain.Query) ([]domain.Candidate, error) {
	docs, err := ix.SimilaritySearchWithScore(ctx, q.SearchText, r.k)
	if err != nil {
		return nil, domain.NewIndexError("similarity search", err)
	}
	if len(docs) > r.k {
		docs = docs[:r.k]
	}
	out := make([]domain.Candidate, len(docs))
	for i, d := range docs {
		ref, _ := d.Metadata["reference"].(string)
		out[i] = domain.Candidate{
			Passage:   passageFromDocument(d.Document),
			Reference: ref,
			Score:     d.Score,
		}
	}
	return out, nil
}

// passageFromDocument rebuilds the passage fields stored as metadata. Missing
// fields stay zero; the assembler decides whether the result is usable.
func passageFromDocument(d semantic.Document) domain.Passage {
	p := domain.Passage{
		BookName:         metaString(d.Metadata, "book_name"),
		ChapterNumber:    metaInt(d.Metadata, "chapter_number"),
		VerseNumberStart: metaInt(d.Metadata, "verse_number_start"),
		VerseNumberEnd:   metaInt(d.Metadata, "verse_number_end"),
		TranslationID:    metaString(d.Metadata, "translation_id"),
		Text:             d.Text,
	}
	if p.VerseNumberEnd == 0 {
		p.VerseNumberEnd = p.VerseNumberStart
	}
	return p
}

func metaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
