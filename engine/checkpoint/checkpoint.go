// Package checkpoint persists segmentation progress so a crashed or
// interrupted run resumes where it stopped. Progress is recorded per chapter
// after every flush; a book is only marked complete once all of its chapters
// are done.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/selah-app/selah/engine/domain"
)

// ErrLocked is returned when another process holds the checkpoint location.
var ErrLocked = errors.New("checkpoint: location locked by another process")

// ChapterProgress is the committed passage list of one chapter.
type ChapterProgress struct {
	Number   int              `json:"number"`
	Done     bool             `json:"done"`
	Passages []domain.Passage `json:"passages"`
}

// NextVerse returns the first verse number not yet covered by a committed
// passage (1 when nothing is committed).
func (c ChapterProgress) NextVerse() int {
	if len(c.Passages) == 0 {
		return 1
	}
	return c.Passages[len(c.Passages)-1].VerseNumberEnd + 1
}

// Progress is everything committed for a book.
type Progress struct {
	Book      string                  `json:"book"`
	Complete  bool                    `json:"complete"`
	Chapters  map[int]ChapterProgress `json:"-"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Passages flattens the committed passages in chapter order.
func (p Progress) Passages() []domain.Passage {
	var out []domain.Passage
	for _, n := range slices.Sorted(maps.Keys(p.Chapters)) {
		out = append(out, p.Chapters[n].Passages...)
	}
	return out
}

// Status summarizes a book's progress for reporting.
type Status struct {
	Book         string
	Complete     bool
	Chapters     int
	DoneChapters int
	Passages     int
	UpdatedAt    time.Time
}

// Summary converts progress into a Status.
func (p Progress) Summary() Status {
	st := Status{Book: p.Book, Complete: p.Complete, Chapters: len(p.Chapters), UpdatedAt: p.UpdatedAt}
	for _, c := range p.Chapters {
		if c.Done {
			st.DoneChapters++
		}
		st.Passages += len(c.Passages)
	}
	return st
}

// Store is a durable segmentation progress log.
type Store interface {
	// Resume returns the progress committed for book (zero Progress if none).
	Resume(ctx context.Context, book string) (Progress, error)
	// Commit replaces the chapter's committed passage list. done marks the
	// chapter finished.
	Commit(ctx context.Context, book string, chapter int, passages []domain.Passage, done bool) error
	// Complete marks the book finished; later runs skip it.
	Complete(ctx context.Context, book string) error
	// Reset discards everything committed for book.
	Reset(ctx context.Context, book string) error
	// Books reports the status of every book with committed progress.
	Books(ctx context.Context) ([]Status, error)
	Close() error
}

func validateCommit(book string, chapter int, passages []domain.Passage) error {
	for _, p := range passages {
		if p.BookName != book || p.ChapterNumber != chapter {
			return fmt.Errorf("checkpoint: passage %s does not belong to %s %d", p.Reference(), book, chapter)
		}
		if err := domain.ValidatePassage(p); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

// Open opens the store for backend ("dir" or "bolt") rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "dir":
		return OpenDir(dir)
	case "bolt":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: create %s: %w", dir, err)
		}
		return OpenBolt(filepath.Join(dir, "checkpoint.db"))
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", backend)
	}
}
