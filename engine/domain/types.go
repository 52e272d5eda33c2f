// Package domain defines the core scripture and recommendation types shared by
// the segmentation and recommendation pipelines, plus the validation gates and
// error taxonomy used at their entry points.
package domain

import "time"

// DefaultTranslation is the corpus translation segmented and indexed by default.
const DefaultTranslation = "BSB"

// Verse is a single numbered verse of the corpus. Immutable.
type Verse struct {
	BookName      string `json:"book_name"`
	ChapterNumber int    `json:"chapter_number"`
	VerseNumber   int    `json:"verse_number"`
	TranslationID string `json:"translation_id"`
	Text          string `json:"text"`
}

// Chapter is the ordered verse list of one chapter.
type Chapter struct {
	Number int     `json:"number"`
	Verses []Verse `json:"verses"`
}

// Book is a corpus book with its chapters in numeric order.
type Book struct {
	Name          string    `json:"name"`
	TranslationID string    `json:"translation_id"`
	Chapters      []Chapter `json:"chapters"`
}

// VerseCount returns the number of verses across all chapters.
func (b Book) VerseCount() int {
	n := 0
	for _, c := range b.Chapters {
		n += len(c.Verses)
	}
	return n
}

// Passage is a contiguous verse range within one chapter. Text is the
// space-joined text of its verses in verse order.
type Passage struct {
	BookName         string `json:"book_name"`
	ChapterNumber    int    `json:"chapter_number"`
	VerseNumberStart int    `json:"verse_number_start"`
	VerseNumberEnd   int    `json:"verse_number_end"`
	TranslationID    string `json:"translation_id"`
	Text             string `json:"text"`
}

// Reference renders the passage as "Book C:S" or "Book C:S-E".
func (p Passage) Reference() string {
	return FormatReference(p.BookName, p.ChapterNumber, p.VerseNumberStart, p.VerseNumberEnd)
}

// Query is derived once per prayer. SearchText is what is sent to the
// similarity search.
type Query struct {
	SearchText        string `json:"search_text"`
	SupportingDetails string `json:"supporting_details"`
	Justification     string `json:"justification"`
}

// Candidate is a passage returned by similarity search with its score.
// Reference is the free-text reference stored with the indexed passage.
type Candidate struct {
	Passage   Passage `json:"passage"`
	Reference string  `json:"reference,omitempty"`
	Score     float32 `json:"score"`
}

// Judgment is a candidate that survived relevance filtering.
type Judgment struct {
	Candidate     Candidate `json:"candidate"`
	Encouragement string    `json:"encouragement,omitempty"`
}

// Prayer is the input handed over by the prayer service.
type Prayer struct {
	ID            string `json:"id"`
	Transcription string `json:"transcription"`
}

// Recommendation is owned by the prayer it was generated for and never mutated
// after creation.
type Recommendation struct {
	ID               string    `json:"id"`
	PrayerID         string    `json:"prayer_id"`
	BookName         string    `json:"book_name"`
	ChapterNumber    int       `json:"chapter_number"`
	VerseNumberStart int       `json:"verse_number_start"`
	VerseNumberEnd   int       `json:"verse_number_end"`
	VerseText        string    `json:"verse_text"`
	RelevanceScore   float64   `json:"relevance_score"`
	Justification    string    `json:"justification"`
	CreatedAt        time.Time `json:"created_at"`
}

// Reference renders the recommended verse range.
func (r Recommendation) Reference() string {
	return FormatReference(r.BookName, r.ChapterNumber, r.VerseNumberStart, r.VerseNumberEnd)
}
