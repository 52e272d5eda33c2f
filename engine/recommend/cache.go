package recommend

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/selah-app/selah/engine/domain"
)

// judgmentCache is an LRU of relevance verdicts keyed by (prayer, passage).
type judgmentCache struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
}

type verdict struct {
	Relevant      bool
	Encouragement string
}

type cacheEntry struct {
	key   string
	value verdict
}

// newJudgmentCache returns nil for a non-positive capacity; a nil cache
// stores nothing.
func newJudgmentCache(capacity int) *judgmentCache {
	if capacity <= 0 {
		return nil
	}
	return &judgmentCache{capacity: capacity, items: make(map[string]*list.Element), lru: list.New()}
}

func (c *judgmentCache) get(key string) (verdict, bool) {
	if c == nil {
		return verdict{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return verdict{}, false
}

func (c *judgmentCache) set(key string, v verdict) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = v
		return
	}
	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, value: v})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *judgmentCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// normalizePrayer folds case and whitespace. The whole transcription is kept:
// verdicts carry encouragement written for one prayer.
func normalizePrayer(prayer string) string {
	return strings.ToLower(strings.Join(strings.Fields(prayer), " "))
}

func judgmentKey(prayer string, p domain.Passage) string {
	h := sha256.New()
	h.Write([]byte(normalizePrayer(prayer)))
	h.Write([]byte{0})
	h.Write([]byte(p.Reference()))
	h.Write([]byte{0})
	h.Write([]byte(p.Text))
	return hex.EncodeToString(h.Sum(nil))
}
