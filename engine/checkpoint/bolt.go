package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/selah-app/selah/engine/domain"
)

var (
	booksBucket    = []byte("books")
	chaptersBucket = []byte("chapters")
)

// BoltLog stores progress in a bbolt database: one nested bucket per book
// keyed by big-endian chapter number, plus a metadata record per book. Every
// commit is a single transaction.
type BoltLog struct {
	db *bolt.DB
}

type bookMeta struct {
	Complete  bool      `json:"complete"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenBolt opens (or creates) the log at path. bbolt's own file lock keeps a
// second process out; ErrLocked is returned if it cannot be taken within a second.
func OpenBolt(path string) (*BoltLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(booksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(chaptersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: init %s: %w", path, err)
	}
	return &BoltLog{db: db}, nil
}

func chapterKey(n int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(n))
	return k
}

func readMeta(tx *bolt.Tx, book string) (bookMeta, error) {
	var m bookMeta
	raw := tx.Bucket(booksBucket).Get([]byte(book))
	if raw == nil {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("checkpoint: decode meta %s: %w", book, err)
	}
	return m, nil
}

func writeMeta(tx *bolt.Tx, book string, m bookMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(booksBucket).Put([]byte(book), raw)
}

func readProgress(tx *bolt.Tx, book string) (Progress, error) {
	meta, err := readMeta(tx, book)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{Book: book, Complete: meta.Complete, UpdatedAt: meta.UpdatedAt, Chapters: map[int]ChapterProgress{}}
	b := tx.Bucket(chaptersBucket).Bucket([]byte(book))
	if b == nil {
		return p, nil
	}
	err = b.ForEach(func(k, v []byte) error {
		var c ChapterProgress
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("checkpoint: decode %s chapter %d: %w", book, binary.BigEndian.Uint32(k), err)
		}
		p.Chapters[c.Number] = c
		return nil
	})
	return p, err
}

// Resume implements Store.
func (l *BoltLog) Resume(_ context.Context, book string) (Progress, error) {
	var p Progress
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = readProgress(tx, book)
		return err
	})
	return p, err
}

// Commit implements Store.
func (l *BoltLog) Commit(_ context.Context, book string, chapter int, passages []domain.Passage, done bool) error {
	if err := validateCommit(book, chapter, passages); err != nil {
		return err
	}
	raw, err := json.Marshal(ChapterProgress{Number: chapter, Done: done, Passages: slices.Clone(passages)})
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s %d: %w", book, chapter, err)
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(chaptersBucket).CreateBucketIfNotExists([]byte(book))
		if err != nil {
			return err
		}
		if err := b.Put(chapterKey(chapter), raw); err != nil {
			return err
		}
		meta, err := readMeta(tx, book)
		if err != nil {
			return err
		}
		meta.UpdatedAt = time.Now().UTC()
		return writeMeta(tx, book, meta)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: commit %s %d: %w", book, chapter, err)
	}
	return nil
}

// Complete implements Store.
func (l *BoltLog) Complete(_ context.Context, book string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		meta, err := readMeta(tx, book)
		if err != nil {
			return err
		}
		meta.Complete = true
		meta.UpdatedAt = time.Now().UTC()
		return writeMeta(tx, book, meta)
	})
}

// Reset implements Store.
func (l *BoltLog) Reset(_ context.Context, book string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(booksBucket).Delete([]byte(book)); err != nil {
			return err
		}
		err := tx.Bucket(chaptersBucket).DeleteBucket([]byte(book))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Books implements Store.
func (l *BoltLog) Books(_ context.Context) ([]Status, error) {
	var out []Status
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(booksBucket).ForEach(func(k, _ []byte) error {
			p, err := readProgress(tx, string(k))
			if err != nil {
				return err
			}
			out = append(out, p.Summary())
			return nil
		})
	})
	return out, err
}

// Close closes the database and releases its file lock.
func (l *BoltLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

var _ Store = (*BoltLog)(nil)
