package category

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lruEntry is a doubly-linked list node for the classification cache.
type lruEntry struct {
	key        uint64
	categories []string
	prev       *lruEntry
	next       *lruEntry
}

// Cache provides bounded LRU caching of tool-name classification results.
// Classification scans every mapping of an account per tool name, which is
// hot during tools/list; the cache keys on (account, tool name).
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewCache creates a classification cache with the given max size.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Key hashes (account, tool name) into a cache key.
func Key(accountID, toolName string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(accountID)
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(toolName)
	return h.Sum64()
}

// Get retrieves cached categories. Returns (categories, true) on hit.
// On hit, the entry is promoted to the head (most recently used).
func (c *Cache) Get(key uint64) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.categories, true
	}
	return nil, false
}

// Put stores categories for a key. At capacity, the least recently used
// entry is evicted.
func (c *Cache) Put(key uint64, categories []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.categories = categories
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, categories: categories}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called when category mappings change.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns the current cache size.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *Cache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *Cache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *Cache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *Cache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
