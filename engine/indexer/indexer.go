// Package indexer loads the passages of fully segmented books from the
// checkpoint store and writes them to the vector index as documents.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/selah-app/selah/engine/checkpoint"
	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/semantic"
	"github.com/selah-app/selah/pkg/fn"
	"github.com/selah-app/selah/pkg/metrics"
	"github.com/selah-app/selah/pkg/resilience"
)

// DefaultBatchSize is the number of documents per AddDocuments call.
const DefaultBatchSize = 64

// ErrIncomplete is returned for books whose segmentation has not finished.
var ErrIncomplete = errors.New("indexer: book not fully segmented")

// DocumentIndex is the write side of *semantic.Index.
type DocumentIndex interface {
	AddDocuments(ctx context.Context, docs []semantic.Document, tenant string) error
}

// Deps holds the external dependencies of the indexing pipeline.
type Deps struct {
	Checkpoints checkpoint.Store
	Index       DocumentIndex
	Tenant      string
	BatchSize   int
	// Breaker, when set, guards the writes to the index.
	Breaker *resilience.Breaker
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// BookPassages is a completed book loaded from the checkpoint store.
type BookPassages struct {
	Book     string
	Passages []domain.Passage
}

// BookDocuments is a book converted to index documents.
type BookDocuments struct {
	Book string
	Docs []semantic.Document
}

// Indexed reports one book written to the index.
type Indexed struct {
	Book      string
	Documents int
	Batches   int
}

// PointID derives the deterministic point ID of a passage, so re-indexing
// the same corpus overwrites points instead of duplicating them.
func PointID(tenant string, p domain.Passage) string {
	key := tenant + "/" + p.TranslationID + "/" + p.Reference()
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Document converts a passage to an index document. The metadata keys mirror
// the passage fields so the assembler can rebuild the verse range.
func Document(tenant string, p domain.Passage) semantic.Document {
	return semantic.Document{
		ID:   PointID(tenant, p),
		Text: p.Text,
		Metadata: map[string]any{
			"book_name":          p.BookName,
			"chapter_number":     p.ChapterNumber,
			"verse_number_start": p.VerseNumberStart,
			"verse_number_end":   p.VerseNumberEnd,
			"translation_id":     p.TranslationID,
			"reference":          p.Reference(),
		},
	}
}

// --- Pipeline Stages ---

// NewLoad creates the stage that reads a completed book from the checkpoint store.
func NewLoad(store checkpoint.Store) fn.Stage[string, BookPassages] {
	return func(ctx context.Context, book string) fn.Result[BookPassages] {
		p, err := store.Resume(ctx, book)
		if err != nil {
			return fn.Err[BookPassages](fmt.Errorf("indexer: load %s: %w", book, err))
		}
		if !p.Complete {
			return fn.Err[BookPassages](fmt.Errorf("%w: %s", ErrIncomplete, book))
		}
		return fn.Ok(BookPassages{Book: book, Passages: p.Passages()})
	}
}

// NewDocuments creates the stage that validates passages and converts them.
func NewDocuments(tenant string) fn.Stage[BookPassages, BookDocuments] {
	return func(_ context.Context, in BookPassages) fn.Result[BookDocuments] {
		docs := make([]semantic.Document, 0, len(in.Passages))
		for _, p := range in.Passages {
			if err := domain.ValidatePassage(p); err != nil {
				return fn.Err[BookDocuments](fmt.Errorf("indexer: %s: %w", in.Book, err))
			}
			docs = append(docs, Document(tenant, p))
		}
		return fn.Ok(BookDocuments{Book: in.Book, Docs: docs})
	}
}

// NewStore creates the stage that writes documents in batches. Index failures
// come back as IndexConnectivityError.
func NewStore(ix DocumentIndex, tenant string, batchSize int, met *pipelineMetrics) fn.Stage[BookDocuments, Indexed] {
	return func(ctx context.Context, in BookDocuments) fn.Result[Indexed] {
		out := Indexed{Book: in.Book}
		for _, batch := range fn.Chunk(in.Docs, batchSize) {
			if err := ix.AddDocuments(ctx, batch, tenant); err != nil {
				met.errors.Inc()
				return fn.Err[Indexed](domain.NewIndexError("add documents", err))
			}
			out.Documents += len(batch)
			out.Batches++
			met.documents.Add(int64(len(batch)))
			met.batches.Inc()
		}
		return fn.Ok(out)
	}
}

// NewPipeline constructs the indexing pipeline for one book:
// load → documents → store, each step a named span.
func NewPipeline(deps Deps) fn.Stage[string, Indexed] {
	deps = withDefaults(deps)
	met := newPipelineMetrics(deps.Metrics)
	observe := met.observer(deps.Logger)

	store := NewStore(deps.Index, deps.Tenant, deps.BatchSize, met)
	if deps.Breaker != nil {
		store = resilience.BreakerStage(deps.Breaker, store)
	}
	return fn.Named("indexer.book", fn.Then(
		fn.Then(
			fn.Named("indexer.load", NewLoad(deps.Checkpoints), observe),
			fn.Named("indexer.documents", NewDocuments(deps.Tenant), observe),
		),
		fn.Named("indexer.store", store, observe),
	))
}

func withDefaults(deps Deps) Deps {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return deps
}

// Report summarises an indexing run.
type Report struct {
	Indexed []Indexed
	// Skipped lists books that are not fully segmented yet.
	Skipped []string
}

// Documents returns the total number of documents written.
func (r Report) Documents() int {
	n := 0
	for _, ix := range r.Indexed {
		n += ix.Documents
	}
	return n
}

// Run indexes books one after another. An empty list indexes every book the
// checkpoint store reports as complete. Incomplete books are skipped; any
// other failure stops the run.
func Run(ctx context.Context, deps Deps, books []string) (Report, error) {
	deps = withDefaults(deps)
	log := deps.Logger

	if len(books) == 0 {
		statuses, err := deps.Checkpoints.Books(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("indexer: list books: %w", err)
		}
		books = fn.FilterMap(statuses, func(s checkpoint.Status) (string, bool) { return s.Book, s.Complete })
	}

	pipeline := NewPipeline(deps)
	var report Report
	for _, book := range books {
		res, err := pipeline(ctx, book).Unwrap()
		switch {
		case errors.Is(err, ErrIncomplete):
			log.Warn("indexer: skipping incomplete book", "book", book)
			report.Skipped = append(report.Skipped, book)
		case err != nil:
			return report, err
		default:
			log.Info("indexer: book indexed", "book", book, "documents", res.Documents, "batches", res.Batches)
			report.Indexed = append(report.Indexed, res)
		}
	}
	return report, nil
}
