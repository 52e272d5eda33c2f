package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidatePrayer checks a prayer before it enters the recommendation pipeline.
func ValidatePrayer(p Prayer) error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", p.ID, ErrMissingID)
	}
	if strings.TrimSpace(p.Transcription) == "" {
		return NewValidationError("transcription", p.Transcription, ErrEmptyPrayer)
	}
	return nil
}

// ValidatePassage checks the range of a single passage.
func ValidatePassage(p Passage) error {
	if p.VerseNumberStart <= 0 || p.VerseNumberEnd < p.VerseNumberStart {
		return NewValidationError("verse_range", p.Reference(), ErrInvalidRange)
	}
	return nil
}

// ValidateTopK checks a retrieval size.
func ValidateTopK(k int) error {
	if k <= 0 {
		return NewValidationError("top_k", strconv.Itoa(k), ErrInvalidTopK)
	}
	return nil
}

// ValidateChapterCoverage checks that passages partition the chapter's verses:
// contiguous, non-overlapping, in order, with every verse covered exactly once
// and each passage's text equal to its verses joined by a space.
func ValidateChapterCoverage(ch Chapter, passages []Passage) error {
	i := 0
	for _, p := range passages {
		if err := ValidatePassage(p); err != nil {
			return err
		}
		if p.ChapterNumber != ch.Number {
			return NewValidationError("chapter_number", p.Reference(), ErrCoverage)
		}
		if i >= len(ch.Verses) || ch.Verses[i].VerseNumber != p.VerseNumberStart {
			return NewValidationError("verse_number_start", p.Reference(), ErrCoverage)
		}
		texts := make([]string, 0, p.VerseNumberEnd-p.VerseNumberStart+1)
		last := 0
		for i < len(ch.Verses) && ch.Verses[i].VerseNumber <= p.VerseNumberEnd {
			texts = append(texts, ch.Verses[i].Text)
			last = ch.Verses[i].VerseNumber
			i++
		}
		if last != p.VerseNumberEnd {
			return NewValidationError("verse_number_end", p.Reference(), ErrCoverage)
		}
		if strings.Join(texts, " ") != p.Text {
			return NewValidationError("text", p.Reference(), ErrCoverage)
		}
	}
	if i != len(ch.Verses) {
		return NewValidationError("chapter", fmt.Sprintf("%d verses uncovered", len(ch.Verses)-i), ErrCoverage)
	}
	return nil
}
