package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/fn"
)

// Status is the outcome of one book task.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusAlreadyComplete Status = "already_complete"
	StatusSkipped         Status = "skipped"
	StatusFailed          Status = "failed"
)

// BookResult reports one book task.
type BookResult struct {
	Book     string
	Status   Status
	Passages []domain.Passage
	Attempts int
	Duration time.Duration
	Err      error
}

// Report collects the results of a Run in input order.
type Report struct {
	Results []BookResult
}

// Count returns how many books ended with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Err joins the errors of failed books, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", res.Book, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Run segments books with a fixed pool of workers draining a task queue.
// Within a book everything is sequential. An empty books list segments the
// whole corpus. Book failures are recorded in the Report; the returned error
// is reserved for failures to list the corpus.
func (e *Engine) Run(ctx context.Context, books []string) (Report, error) {
	if len(books) == 0 {
		var err error
		books, err = e.src.Books(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("segment: list books: %w", err)
		}
	}
	books = fn.Unique(books)

	type task struct {
		idx  int
		book string
	}
	queue := make(chan task, len(books))
	for i, b := range books {
		queue <- task{idx: i, book: b}
	}
	close(queue)

	report := Report{Results: make([]BookResult, len(books))}
	var wg sync.WaitGroup
	for w := 0; w < min(e.opts.Workers, len(books)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				e.met.activeBooks.Inc()
				report.Results[t.idx] = e.runTask(ctx, t.book)
				e.met.activeBooks.Dec()
			}
		}()
	}
	wg.Wait()

	e.log.Info("segment: run finished",
		"books", len(books),
		"completed", report.Count(StatusCompleted),
		"already_complete", report.Count(StatusAlreadyComplete),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
	)
	return report, nil
}

// runTask segments one book with a per-attempt timeout, retrying oracle
// failures. Retries resume from the checkpoint, so flushed work is kept.
func (e *Engine) runTask(ctx context.Context, book string) BookResult {
	res := BookResult{Book: book}
	start := time.Now()
	log := e.log.With("book", book)

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	progress, err := e.store.Resume(ctx, book)
	if err == nil && progress.Complete {
		res.Status = StatusAlreadyComplete
		res.Passages = progress.Passages()
		e.met.books(StatusAlreadyComplete).Inc()
		log.Debug("segment: book already complete")
		return res
	}

	// One oracle per task: breaker state never crosses books.
	oracle := e.oracleFor(book)
	retry := fn.RetryOpts{
		MaxAttempts: e.opts.Attempts,
		InitialWait: e.opts.RetryWait,
		MaxWait:     e.opts.RetryWait,
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && retryable(err)
		},
	}
	result := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[]domain.Passage] {
		res.Attempts++
		if res.Attempts > 1 {
			log.Warn("segment: retrying book", "attempt", res.Attempts)
		}
		if e.opts.BookTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.BookTimeout)
			defer cancel()
		}
		return fn.FromPair(e.segmentBook(ctx, book, oracle))
	})

	res.Duration = time.Since(start)
	e.met.bookDuration.Observe(res.Duration.Seconds())
	passages, err := result.Unwrap()
	switch {
	case err == nil:
		res.Status, res.Passages = StatusCompleted, passages
		log.Info("segment: book complete", "passages", len(passages), "attempts", res.Attempts, "duration", res.Duration)
	case errors.Is(err, domain.ErrCorpus):
		res.Status, res.Err = StatusSkipped, err
		log.Warn("segment: book skipped", "err", err)
	default:
		res.Status, res.Err = StatusFailed, err
		log.Error("segment: book failed", "err", err, "attempts", res.Attempts)
	}
	e.met.books(res.Status).Inc()
	return res
}
