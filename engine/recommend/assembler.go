package recommend

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/scripture"
)

// Assembler shapes retained judgments into recommendations for one prayer.
type Assembler struct {
	now   func() time.Time
	newID func() string
}

// NewAssembler creates an Assembler stamping random UUIDs and UTC times.
func NewAssembler() *Assembler {
	return &Assembler{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Assemble converts kept judgments into recommendations. It fails as a whole
// if any candidate has no usable verse range.
func (a *Assembler) Assemble(prayerID string, q domain.Query, kept []domain.Judgment) ([]domain.Recommendation, error) {
	now := a.now()
	out := make([]domain.Recommendation, 0, len(kept))
	for i, j := range kept {
		book, chapter, start, end := verseRange(j.Candidate)
		if book == "" || chapter <= 0 || start <= 0 || end < start {
			return nil, fmt.Errorf("recommend: assemble candidate %d (%q): %w", i, j.Candidate.Reference, domain.ErrInvalidRange)
		}
		justification := j.Encouragement
		if justification == "" {
			justification = q.Justification
		}
		out = append(out, domain.Recommendation{
			ID:               a.newID(),
			PrayerID:         prayerID,
			BookName:         book,
			ChapterNumber:    chapter,
			VerseNumberStart: start,
			VerseNumberEnd:   end,
			VerseText:        j.Candidate.Passage.Text,
			RelevanceScore:   float64(j.Candidate.Score),
			Justification:    justification,
			CreatedAt:        now,
		})
	}
	return out, nil
}

// verseRange decomposes the candidate's free-text reference into chapter and
// verses, falling back to the structured passage fields when it does not parse
// to a single-chapter verse range. The book name is the corpus's own whenever
// the passage carries one; the parsed canonical name is used only without it.
func verseRange(c domain.Candidate) (book string, chapter, start, end int) {
	p := c.Passage
	if c.Reference != "" {
		ref, err := scripture.Parse(c.Reference)
		if err == nil && ref.Start > 0 && ref.SingleChapter() {
			end = ref.End
			if end < ref.Start {
				end = ref.Start
			}
			book = p.BookName
			if book == "" {
				book = ref.Book
			}
			return book, ref.Chapter, ref.Start, end
		}
	}
	end = p.VerseNumberEnd
	if end == 0 {
		end = p.VerseNumberStart
	}
	return p.BookName, p.ChapterNumber, p.VerseNumberStart, end
}
