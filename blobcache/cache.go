// Package blobcache models the bounded byte cache the page injector keeps for
// blob URLs. Entries are evicted strictly by capture time: reading an entry
// never refreshes it.
package blobcache

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of blobs retained before the oldest capture
// is evicted.
const DefaultCapacity = 15

// Entry is the cached content of one blob URL.
type Entry struct {
	URL        string
	Data       []byte
	MIMEType   string
	Size       int64
	CapturedAt time.Time
}

// Cache is a capacity-bounded map of blob URL to captured bytes.
// It is safe for concurrent use.
type Cache struct {
	capacity int
	now      func() time.Time
	onEvict  func(Entry)

	mu      sync.Mutex
	entries map[string]*slot
	seq     uint64
}

// slot carries an insertion sequence so entries captured in the same clock
// tick still evict in capture order.
type slot struct {
	entry Entry
	seq   uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for CapturedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithEvictCallback registers fn to be called with each evicted entry.
// The callback runs with the cache lock held and must not call back into the cache.
func WithEvictCallback(fn func(Entry)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most capacity entries. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Put records data for url with CapturedAt set to the current time. Putting an
// existing url replaces its content and capture time. When the cache grows
// beyond its capacity the single entry with the oldest capture time is removed.
func (c *Cache) Put(url string, data []byte, mimeType string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	e := Entry{
		URL:        url,
		Data:       data,
		MIMEType:   mimeType,
		Size:       int64(len(data)),
		CapturedAt: c.now(),
	}
	c.entries[url] = &slot{entry: e, seq: c.seq}

	if len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
	return e
}

// Get returns the entry for url.
func (c *Cache) Get(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[url]
	if !ok {
		return Entry{}, false
	}
	return s.entry, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached urls ordered from oldest to newest capture.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := make([]*slot, 0, len(c.entries))
	for _, s := range c.entries {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		return older(slots[i], slots[j])
	})

	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.entry.URL
	}
	return keys
}

func (c *Cache) evictOldestLocked() {
	var oldest *slot
	for _, s := range c.entries {
		if oldest == nil || older(s, oldest) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(c.entries, oldest.entry.URL)
	if c.onEvict != nil {
		c.onEvict(oldest.entry)
	}
}

func older(a, b *slot) bool {
	if !a.entry.CapturedAt.Equal(b.entry.CapturedAt) {
		return a.entry.CapturedAt.Before(b.entry.CapturedAt)
	}
	return a.seq < b.seq
}
