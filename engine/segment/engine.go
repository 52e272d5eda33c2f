// Package segment groups the verses of each chapter into semantically
// coherent passages. A chapter is consumed verse by verse into a buffer; after
// every append an Oracle decides whether the buffer keeps growing. The buffer
// is flushed into a Passage when the oracle says stop or the chapter runs out,
// and every flush is committed to a checkpoint.Store before the next verse is
// read.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/selah-app/selah/engine/checkpoint"
	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/metrics"
)

// Source supplies the corpus. *corpus.SQLiteStore implements it.
type Source interface {
	Books(ctx context.Context) ([]string, error)
	LoadBook(ctx context.Context, name string) (domain.Book, error)
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// Workers is the number of books segmented concurrently (default 2).
	Workers int
	// BookTimeout bounds one attempt at a book. Zero means no limit.
	BookTimeout time.Duration
	// Attempts per book when the oracle fails (default 2: one retry).
	Attempts int
	// RetryWait is the pause before retrying a book (default 5s).
	RetryWait time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Registry
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.Attempts <= 0 {
		o.Attempts = 2
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
}

// Engine segments books from a Source into a checkpoint.Store.
type Engine struct {
	src    Source
	oracle Oracle
	store  checkpoint.Store
	opts   Options
	log    *slog.Logger
	met    engineMetrics
}

// New creates an Engine.
func New(src Source, oracle Oracle, store checkpoint.Store, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		src:    src,
		oracle: oracle,
		store:  store,
		opts:   opts,
		log:    opts.Logger,
		met:    newEngineMetrics(opts.Metrics),
	}
}

// SegmentBook segments one book, resuming from whatever the store already
// holds for it, and marks it complete. A book already marked complete is
// returned from the store without touching the corpus or the oracle.
func (e *Engine) SegmentBook(ctx context.Context, name string) ([]domain.Passage, error) {
	return e.segmentBook(ctx, name, e.oracleFor(name))
}

func (e *Engine) oracleFor(book string) Oracle {
	if s, ok := e.oracle.(BookScoped); ok {
		return s.ForBook(book)
	}
	return e.oracle
}

func (e *Engine) segmentBook(ctx context.Context, name string, oracle Oracle) ([]domain.Passage, error) {
	progress, err := e.store.Resume(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("segment: resume %s: %w", name, err)
	}
	if progress.Complete {
		return progress.Passages(), nil
	}

	book, err := e.src.LoadBook(ctx, name)
	if err != nil {
		return nil, domain.NewCorpusError(name, err)
	}

	var out []domain.Passage
	for _, ch := range book.Chapters {
		passages, err := e.segmentChapter(ctx, oracle, name, ch, progress.Chapters[ch.Number])
		if err != nil {
			return nil, err
		}
		out = append(out, passages...)
	}
	if err := e.store.Complete(ctx, name); err != nil {
		return nil, fmt.Errorf("segment: complete %s: %w", name, err)
	}
	return out, nil
}

// segmentChapter runs the accumulate/flush state machine over one chapter,
// starting after the last verse prior already covers.
func (e *Engine) segmentChapter(ctx context.Context, oracle Oracle, book string, ch domain.Chapter, prior checkpoint.ChapterProgress) ([]domain.Passage, error) {
	if prior.Done {
		return prior.Passages, nil
	}
	passages := slices.Clone(prior.Passages)
	next := prior.NextVerse()
	start := slices.IndexFunc(ch.Verses, func(v domain.Verse) bool { return v.VerseNumber >= next })
	if start < 0 {
		start = len(ch.Verses)
	}
	if start > 0 && len(passages) > 0 {
		e.log.Info("segment: resuming chapter", "book", book, "chapter", ch.Number, "verse", next)
	}

	commit := func(done bool) error {
		if err := e.store.Commit(ctx, book, ch.Number, passages, done); err != nil {
			return fmt.Errorf("segment: commit %s %d: %w", book, ch.Number, err)
		}
		return nil
	}

	var buf []domain.Verse
	for i := start; i < len(ch.Verses); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf = append(buf, ch.Verses[i])
		last := i == len(ch.Verses)-1

		// The final verse always flushes, so the oracle is not consulted.
		if !last {
			e.met.oracleCalls.Inc()
			cont, err := oracle.Continue(ctx, window(book, ch.Number, buf))
			if err != nil {
				e.met.oracleErrors.Inc()
				return nil, domain.NewOracleError("continue", err)
			}
			if cont {
				continue
			}
		} else if len(buf) > 1 {
			e.met.forcedFlushes.Inc()
		}

		passages = append(passages, flush(book, ch.Number, buf))
		e.met.passages.Inc()
		buf = nil
		if err := commit(last); err != nil {
			return nil, err
		}
	}

	if start >= len(ch.Verses) {
		// Everything was already committed, or the chapter is empty.
		if err := commit(true); err != nil {
			return nil, err
		}
	}
	if err := domain.ValidateChapterCoverage(ch, passages); err != nil {
		return nil, fmt.Errorf("segment: %s %d: %w", book, ch.Number, err)
	}
	return passages, nil
}

func window(book string, chapter int, buf []domain.Verse) Window {
	return Window{
		Book:    book,
		Chapter: chapter,
		Start:   buf[0].VerseNumber,
		End:     buf[len(buf)-1].VerseNumber,
		Text:    joinText(buf),
	}
}

func flush(book string, chapter int, buf []domain.Verse) domain.Passage {
	return domain.Passage{
		BookName:         book,
		ChapterNumber:    chapter,
		VerseNumberStart: buf[0].VerseNumber,
		VerseNumberEnd:   buf[len(buf)-1].VerseNumber,
		TranslationID:    buf[0].TranslationID,
		Text:             joinText(buf),
	}
}

func joinText(buf []domain.Verse) string {
	texts := make([]string, len(buf))
	for i, v := range buf {
		texts[i] = v.Text
	}
	return strings.Join(texts, " ")
}

// retryable reports whether a failed book attempt is worth repeating. An
// attempt cut off by the book timeout counts; the caller checks that the run
// itself is still live.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrOracle) || errors.Is(err, context.DeadlineExceeded)
}
