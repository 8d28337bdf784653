package cache

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"image-pipeline/internal/logging"
	"image-pipeline/internal/metrics"
)

// Metadata describes a cached processing result.
type Metadata struct {
	Width            int
	Height           int
	OriginalWidth    int
	OriginalHeight   int
	OriginalSize     int64
	ProcessedSize    int64
	CompressionRatio float64
	Strategy         string
}

// Entry is one cached output blob plus its metadata.
type Entry struct {
	Key            string
	Blob           []byte
	Meta           Metadata
	CreatedAt      time.Time
	LastAccessedAt time.Time
	SizeBytes      int64
}

// Key derives a deterministic cache key from the source identity and the
// requested bounds. FNV-1a, 32-bit: order-sensitive and collision-tolerant.
// The cache is a performance optimization, never a correctness dependency,
// so the occasional collision trades accuracy for speed on purpose.
func Key(filename string, size int64, modTime time.Time, maxWidth, maxHeight int) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|%d|%d|%d", filename, size, modTime.UnixMilli(), maxWidth, maxHeight)
	return fmt.Sprintf("%08x", h.Sum32())
}

// Cache is a thread-safe LRU cache of encoded result blobs, bounded by both
// entry count and total bytes.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recent, back = least recent
	maxEntries int
	maxBytes   int64
	usedBytes  int64
}

// New creates a cache bounded by maxEntries and maxBytes. Non-positive
// bounds fall back to defaults (50 entries, 100MB).
func New(maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}
	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// Get returns the entry for key, updating its last-access time, or nil on
// miss. A hit does not extend the key's lifetime beyond normal LRU order.
func (c *Cache) Get(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil
	}

	c.order.MoveToFront(elem)
	entry := elem.Value.(*Entry)
	entry.LastAccessedAt = time.Now()
	metrics.CacheHits.Inc()
	return entry
}

// Set inserts a blob under key, evicting least-recently-accessed entries
// first until both the entry-count and byte bounds hold. If the cache is
// empty and the new entry alone exceeds the byte budget, it is still
// inserted: the most recent result is always worth caching.
func (c *Cache) Set(key string, data []byte, meta Metadata) {
	size := int64(len(data))
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*Entry)
		c.usedBytes -= old.SizeBytes
		old.Blob = data
		old.Meta = meta
		old.SizeBytes = size
		old.LastAccessedAt = now
		c.usedBytes += size
		c.order.MoveToFront(elem)
		c.evictLocked()
		c.updateGauges()
		return
	}

	// Make room before inserting.
	for c.order.Len() > 0 && (c.order.Len()+1 > c.maxEntries || c.usedBytes+size > c.maxBytes) {
		c.evictBackLocked()
	}

	entry := &Entry{
		Key:            key,
		Blob:           data,
		Meta:           meta,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
	}
	c.items[key] = c.order.PushFront(entry)
	c.usedBytes += size
	c.updateGauges()
}

// evictLocked evicts from the back until bounds hold, sparing the last entry.
func (c *Cache) evictLocked() {
	for c.order.Len() > 1 && (c.order.Len() > c.maxEntries || c.usedBytes > c.maxBytes) {
		c.evictBackLocked()
	}
}

func (c *Cache) evictBackLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*Entry)
	c.order.Remove(elem)
	delete(c.items, entry.Key)
	c.usedBytes -= entry.SizeBytes
	entry.Blob = nil
	metrics.CacheEvictions.Inc()
	logging.Debug("cache: evicted %s (%d bytes)", entry.Key, entry.SizeBytes)
}

// Clear drops all entries and releases held blob references.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*Entry).Blob = nil
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.usedBytes = 0
	c.updateGauges()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// UsedBytes returns the total bytes currently held.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

func (c *Cache) updateGauges() {
	metrics.CacheBytes.Set(float64(c.usedBytes))
	metrics.CacheEntries.Set(float64(c.order.Len()))
}
