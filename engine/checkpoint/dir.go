package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/selah-app/selah/engine/domain"
)

const lockFile = ".selah.lock"

// Dir keeps one JSON file per book in a directory. Every commit rewrites the
// book's file atomically (temp file + rename).
type Dir struct {
	path string
	lock *flock.Flock

	mu    sync.Mutex
	cache map[string]*bookFile
}

// bookFile is the on-disk layout of one book.
type bookFile struct {
	Book      string            `json:"book"`
	Complete  bool              `json:"complete"`
	Chapters  []ChapterProgress `json:"chapters"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// OpenDir creates path if needed and takes an exclusive lock on it.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create %s: %w", path, err)
	}
	lk := flock.New(filepath.Join(path, lockFile))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Dir{path: path, lock: lk, cache: make(map[string]*bookFile)}, nil
}

// Path returns the checkpoint directory.
func (d *Dir) Path() string { return d.path }

func (d *Dir) file(book string) string {
	return filepath.Join(d.path, book+".json")
}

// load returns the cached or on-disk record for book. Must hold mu.
func (d *Dir) load(book string) (*bookFile, error) {
	if bf, ok := d.cache[book]; ok {
		return bf, nil
	}
	data, err := os.ReadFile(d.file(book))
	if errors.Is(err, fs.ErrNotExist) {
		bf := &bookFile{Book: book}
		d.cache[book] = bf
		return bf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", book, err)
	}
	bf, err := decodeBookFile(book, data)
	if err != nil {
		return nil, err
	}
	d.cache[book] = bf
	return bf, nil
}

// decodeBookFile accepts the current layout and the legacy one, a bare JSON
// array of passages written only once a book had been fully segmented.
func decodeBookFile(book string, data []byte) (*bookFile, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var passages []domain.Passage
		if err := json.Unmarshal(data, &passages); err != nil {
			return nil, fmt.Errorf("checkpoint: decode legacy %s: %w", book, err)
		}
		bf := &bookFile{Book: book, Complete: true}
		for _, p := range passages {
			n := len(bf.Chapters)
			if n == 0 || bf.Chapters[n-1].Number != p.ChapterNumber {
				bf.Chapters = append(bf.Chapters, ChapterProgress{Number: p.ChapterNumber, Done: true})
				n++
			}
			bf.Chapters[n-1].Passages = append(bf.Chapters[n-1].Passages, p)
		}
		return bf, nil
	}
	var bf bookFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", book, err)
	}
	if bf.Book == "" {
		bf.Book = book
	}
	return &bf, nil
}

func (bf *bookFile) progress() Progress {
	p := Progress{Book: bf.Book, Complete: bf.Complete, UpdatedAt: bf.UpdatedAt, Chapters: make(map[int]ChapterProgress, len(bf.Chapters))}
	for _, c := range bf.Chapters {
		c.Passages = slices.Clone(c.Passages)
		p.Chapters[c.Number] = c
	}
	return p
}

// Resume implements Store.
func (d *Dir) Resume(_ context.Context, book string) (Progress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bf, err := d.load(book)
	if err != nil {
		return Progress{}, err
	}
	return bf.progress(), nil
}

// Commit implements Store.
func (d *Dir) Commit(_ context.Context, book string, chapter int, passages []domain.Passage, done bool) error {
	if err := validateCommit(book, chapter, passages); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bf, err := d.load(book)
	if err != nil {
		return err
	}
	next := *bf
	next.Chapters = slices.Clone(bf.Chapters)
	rec := ChapterProgress{Number: chapter, Done: done, Passages: slices.Clone(passages)}
	i, found := slices.BinarySearchFunc(next.Chapters, chapter, func(c ChapterProgress, n int) int { return c.Number - n })
	if found {
		next.Chapters[i] = rec
	} else {
		next.Chapters = slices.Insert(next.Chapters, i, rec)
	}
	next.UpdatedAt = time.Now().UTC()
	return d.write(&next)
}

// Complete implements Store.
func (d *Dir) Complete(_ context.Context, book string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bf, err := d.load(book)
	if err != nil {
		return err
	}
	next := *bf
	next.Complete = true
	next.UpdatedAt = time.Now().UTC()
	return d.write(&next)
}

// Reset implements Store.
func (d *Dir) Reset(_ context.Context, book string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, book)
	if err := os.Remove(d.file(book)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: reset %s: %w", book, err)
	}
	return nil
}

// write persists bf and updates the cache only once the rename succeeded.
// Must hold mu.
func (d *Dir) write(bf *bookFile) error {
	data, err := json.MarshalIndent(bf, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", bf.Book, err)
	}
	tmp, err := os.CreateTemp(d.path, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", bf.Book, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("checkpoint: write %s: %w", bf.Book, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("checkpoint: sync %s: %w", bf.Book, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: close %s: %w", bf.Book, err)
	}
	if err := os.Rename(tmp.Name(), d.file(bf.Book)); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: rename %s: %w", bf.Book, err)
	}
	d.cache[bf.Book] = bf
	return nil
}

// Books implements Store.
func (d *Dir) Books(_ context.Context) ([]Status, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", d.path, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Status
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		bf, err := d.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, bf.progress().Summary())
	}
	return out, nil
}

// Close releases the directory lock.
func (d *Dir) Close() error {
	if d == nil || d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

var _ Store = (*Dir)(nil)
