// Package corpus reads the verse corpus from the bible.eng.db SQLite layout:
// Book(id, name, translationId) and ChapterVerse(number, chapterNumber,
// bookId, translationId, text).
package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/selah-app/selah/engine/domain"
)

// ErrBookNotFound is wrapped in a CorpusAccessError when a book has no verses
// in the configured translation.
var ErrBookNotFound = errors.New("book not found")

// SQLiteStore is a read-only verse source for one translation.
type SQLiteStore struct {
	db          *sql.DB
	translation string
}

// Open opens the corpus database at path read-only. An empty translation
// selects domain.DefaultTranslation.
func Open(path, translation string) (*SQLiteStore, error) {
	if translation == "" {
		translation = domain.DefaultTranslation
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	return &SQLiteStore{db: db, translation: translation}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sql.DB, translation string) *SQLiteStore {
	if translation == "" {
		translation = domain.DefaultTranslation
	}
	return &SQLiteStore{db: db, translation: translation}
}

// Translation returns the translation id the store filters on.
func (s *SQLiteStore) Translation() string { return s.translation }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Books lists book names in corpus order.
func (s *SQLiteStore) Books(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM Book WHERE translationId = ? ORDER BY id`, s.translation)
	if err != nil {
		return nil, domain.NewCorpusError("*", fmt.Errorf("list books: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domain.NewCorpusError("*", fmt.Errorf("scan book: %w", err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewCorpusError("*", err)
	}
	return names, nil
}

// LoadBook returns the book's chapters in numeric order, each with its verses
// in numeric order.
func (s *SQLiteStore) LoadBook(ctx context.Context, name string) (domain.Book, error) {
	book := domain.Book{Name: name, TranslationID: s.translation}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cv.chapterNumber, cv.number, cv.text
		FROM ChapterVerse cv
		JOIN Book b ON b.id = cv.bookId AND b.translationId = cv.translationId
		WHERE cv.translationId = ? AND b.name = ?
		ORDER BY cv.chapterNumber, cv.number`, s.translation, name)
	if err != nil {
		return book, domain.NewCorpusError(name, fmt.Errorf("query verses: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Verse
		if err := rows.Scan(&v.ChapterNumber, &v.VerseNumber, &v.Text); err != nil {
			return book, domain.NewCorpusError(name, fmt.Errorf("scan verse: %w", err))
		}
		v.BookName = name
		v.TranslationID = s.translation
		v.Text = strings.TrimSpace(v.Text)

		n := len(book.Chapters)
		if n == 0 || book.Chapters[n-1].Number != v.ChapterNumber {
			book.Chapters = append(book.Chapters, domain.Chapter{Number: v.ChapterNumber})
			n++
		}
		book.Chapters[n-1].Verses = append(book.Chapters[n-1].Verses, v)
	}
	if err := rows.Err(); err != nil {
		return book, domain.NewCorpusError(name, err)
	}
	if len(book.Chapters) == 0 {
		return book, domain.NewCorpusError(name, ErrBookNotFound)
	}
	return book, nil
}
