// Package store persists recommendation sets in SQLite, one row per
// recommendation in the prayer_verse_recommendations table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/selah-app/selah/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS prayer_verse_recommendations (
    id                 TEXT PRIMARY KEY,
    prayer_id          TEXT NOT NULL,
    position           INTEGER NOT NULL,
    book_name          TEXT NOT NULL,
    chapter_number     INTEGER NOT NULL,
    verse_number_start INTEGER NOT NULL,
    verse_number_end   INTEGER,
    verse_text         TEXT NOT NULL,
    justification      TEXT NOT NULL DEFAULT '',
    relevance_score    REAL NOT NULL,
    created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pvr_prayer ON prayer_verse_recommendations(prayer_id, position);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite is the recommendation store.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// SaveRecommendations replaces the prayer's recommendation set in one
// transaction. Either every row is written or none is.
func (s *SQLite) SaveRecommendations(ctx context.Context, prayerID string, recs []domain.Recommendation) error {
	for _, r := range recs {
		if r.PrayerID != prayerID {
			return fmt.Errorf("store: recommendation %s belongs to prayer %q, not %q", r.ID, r.PrayerID, prayerID)
		}
	}
	return retryOnBusy(ctx, func() error { return s.save(ctx, prayerID, recs) })
}

func (s *SQLite) save(ctx context.Context, prayerID string, recs []domain.Recommendation) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM prayer_verse_recommendations WHERE prayer_id = ?`, prayerID); err != nil {
		return fmt.Errorf("store: clear %s: %w", prayerID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO prayer_verse_recommendations (
            id, prayer_id, position, book_name, chapter_number, verse_number_start,
            verse_number_end, verse_text, justification, relevance_score, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if _, err = stmt.ExecContext(ctx,
			r.ID,
			r.PrayerID,
			i,
			r.BookName,
			r.ChapterNumber,
			r.VerseNumberStart,
			nullableEnd(r),
			r.VerseText,
			r.Justification,
			r.RelevanceScore,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// nullableEnd stores single-verse ranges with a NULL end, as the prayer
// service's table does.
func nullableEnd(r domain.Recommendation) any {
	if r.VerseNumberEnd == 0 || r.VerseNumberEnd == r.VerseNumberStart {
		return nil
	}
	return r.VerseNumberEnd
}

// ListRecommendations returns the prayer's recommendations in saved order.
func (s *SQLite) ListRecommendations(ctx context.Context, prayerID string) ([]domain.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
            id, prayer_id, book_name, chapter_number, verse_number_start,
            verse_number_end, verse_text, justification, relevance_score, created_at
        FROM prayer_verse_recommendations WHERE prayer_id = ? ORDER BY position`, prayerID)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prayerID, err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var (
			r       domain.Recommendation
			end     sql.NullInt64
			created string
		)
		if err := rows.Scan(&r.ID, &r.PrayerID, &r.BookName, &r.ChapterNumber, &r.VerseNumberStart,
			&end, &r.VerseText, &r.Justification, &r.RelevanceScore, &created); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.VerseNumberEnd = r.VerseNumberStart
		if end.Valid {
			r.VerseNumberEnd = int(end.Int64)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("store: parse created_at %q: %w", created, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prayerID, err)
	}
	return out, nil
}

// DeleteRecommendations removes every recommendation of a prayer and reports
// how many rows went.
func (s *SQLite) DeleteRecommendations(ctx context.Context, prayerID string) (int, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM prayer_verse_recommendations WHERE prayer_id = ?`, prayerID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: delete %s: %w", prayerID, err)
	}
	return int(n), nil
}

// Count returns the number of stored recommendations across all prayers.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prayer_verse_recommendations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}
