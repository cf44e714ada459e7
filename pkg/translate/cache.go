package translate

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Cache is a bounded LRU with per-entry TTL, shared across sessions.
// Keys are content-derived, never session-derived.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key     string
	value   string
	savedAt time.Time
}

func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func cacheKey(text, sourceLang, targetLang string) string {
	return strings.ToLower(strings.TrimSpace(text)) + "\x00" + sourceLang + "\x00" + targetLang
}

func (c *Cache) Get(text, sourceLang, targetLang string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[cacheKey(text, sourceLang, targetLang)]
	if !ok {
		return "", false
	}
	ent := el.Value.(*cacheEntry)
	if time.Since(ent.savedAt) > c.ttl {
		c.ll.Remove(el)
		delete(c.items, ent.key)
		return "", false
	}
	c.ll.MoveToFront(el)
	return ent.value, true
}

func (c *Cache) Put(text, sourceLang, targetLang, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(text, sourceLang, targetLang)
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.value = translation
		ent.savedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, value: translation, savedAt: time.Now()})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Sweep drops expired entries and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*cacheEntry)
		if time.Since(ent.savedAt) > c.ttl {
			c.ll.Remove(el)
			delete(c.items, ent.key)
			removed++
		}
		el = prev
	}
	return removed
}

// Run sweeps periodically until the context is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
