package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/semantic"
)

// routedCompleter answers optimizer and judge prompts separately.
type routedCompleter struct {
	optimize   func(user string) (string, error)
	judge      func(user string) (string, error)
	judgeCalls atomic.Int32
}

func (c *routedCompleter) CompleteJSON(_ context.Context, system, user string) (string, error) {
	if strings.HasPrefix(system, "You are a Bible Verse Retrieval Assistant") {
		return c.optimize(user)
	}
	c.judgeCalls.Add(1)
	return c.judge(user)
}

func optimizerReply(verse string) func(string) (string, error) {
	return func(string) (string, error) {
		return fmt.Sprintf(`{"verse": %q, "verse_details": "Jeremiah 29:11", "justification": "God has plans of hope."}`, verse), nil
	}
}

// judgeByMarker judges a passage relevant when its text contains marker.
func judgeByMarker(marker string) func(string) (string, error) {
	return func(user string) (string, error) {
		_, passage, _ := strings.Cut(user, "Passage (")
		return fmt.Sprintf(`{"relevant": %t}`, strings.Contains(passage, marker)), nil
	}
}

type fakeIndex struct {
	docs   []semantic.ScoredDocument
	err    error
	closed bool
	asked  string
	k      int
}

func (f *fakeIndex) SimilaritySearchWithScore(_ context.Context, text string, k int) ([]semantic.ScoredDocument, error) {
	f.asked, f.k = text, k
	return f.docs, f.err
}

func (f *fakeIndex) Close() error {
	f.closed = true
	return nil
}

func connectorFor(ix *fakeIndex) Connector {
	return ConnectorFunc(func(context.Context) (SearchIndex, error) { return ix, nil })
}

func scoredDoc(book string, chapter, start, end int, text string, score float32) semantic.ScoredDocument {
	ref := domain.FormatReference(book, chapter, start, end)
	return semantic.ScoredDocument{
		Document: semantic.Document{
			ID:   ref,
			Text: text,
			Metadata: map[string]any{
				"book_name":          book,
				"chapter_number":     int64(chapter),
				"verse_number_start": int64(start),
				"verse_number_end":   int64(end),
				"translation_id":     "BSB",
				"reference":          ref,
			},
		},
		Score: score,
	}
}

// hopeDocs returns six candidates, three of which mention hope.
func hopeDocs() []semantic.ScoredDocument {
	return []semantic.ScoredDocument{
		scoredDoc("Jeremiah", 29, 11, 11, "For I know the plans I have for you, plans to give you hope and a future.", 0.93),
		scoredDoc("Numbers", 1, 20, 21, "From the descendants of Reuben...", 0.88),
		scoredDoc("Proverbs", 3, 5, 6, "Trust in the LORD with all your heart; He will make your paths straight, your hope.", 0.86),
		scoredDoc("Leviticus", 11, 13, 13, "These are the birds you are to detest.", 0.81),
		scoredDoc("Romans", 15, 13, 13, "Now may the God of hope fill you with all joy and peace.", 0.80),
		scoredDoc("Ezra", 2, 3, 3, "the descendants of Parosh, 2,172", 0.77),
	}
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string][]domain.Recommendation
	saveErr error
	saves   int
}

func newMemStore() *memStore { return &memStore{rows: map[string][]domain.Recommendation{}} }

func (m *memStore) SaveRecommendations(_ context.Context, prayerID string, recs []domain.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rows[prayerID] = recs
	return nil
}

func (m *memStore) ListRecommendations(_ context.Context, prayerID string) ([]domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[prayerID], nil
}

func (m *memStore) DeleteRecommendations(_ context.Context, prayerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[prayerID])
	delete(m.rows, prayerID)
	return n, nil
}

func (m *memStore) count(prayerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[prayerID])
}

var errUnavailable = errors.New("unavailable")
