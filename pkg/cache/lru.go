package cache

import (
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// lruItem is the value stored in the underlying concurrent map. Size and
// stamp are owned by LRU's mutex, not by otter's own bookkeeping: otter
// supplies a lock-striped concurrent hash map, but the byte-budget
// eviction order described for this backend is exact-LRU-by-access-stamp,
// which otter's own admission/eviction policy does not guarantee. otter
// is configured with a capacity far above any real budget so its internal
// eviction never fires; LRU evicts everything itself.
type lruItem struct {
	data        []byte
	contentType string
	createdAt   time.Time
	size        int64
	stamp       uint64
}

// LRU is the in-process cache backend: a fixed maximum byte budget with
// strict least-recently-used eviction. Every get and put advances a
// monotonic access stamp; eviction removes the entry with the smallest
// stamp. get upgrades to the exclusive side of the lock because it must
// update that stamp.
type LRU struct {
	mu          sync.RWMutex
	store       otter.Cache[string, *lruItem]
	maxBytes    int64
	currentSize int64
	stamp       uint64
}

// otterCapacity bounds otter's internal admission window. It is sized
// generously since real eviction is driven by maxBytes, not by entry
// count.
const otterCapacity = 1 << 20

// NewLRU creates an LRU backend with the given byte budget.
func NewLRU(maxBytes int64) (*LRU, error) {
	store, err := otter.MustBuilder[string, *lruItem](otterCapacity).
		Cost(func(string, *lruItem) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &LRU{store: store, maxBytes: maxBytes}, nil
}

func entrySize(e Entry) int64 {
	return int64(len(e.Data) + len(e.ContentType))
}

// Get retrieves an entry and stamps it as most recently used.
func (c *LRU) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.store.Get(key)
	if !ok {
		return Entry{}, false
	}
	c.stamp++
	item.stamp = c.stamp
	return Entry{Data: item.data, ContentType: item.contentType, CreatedAt: item.createdAt}, true
}

// Put stores an entry, evicting least-recently-used entries until the
// budget is satisfied. An entry larger than the whole budget is silently
// not stored; the caller discovers this via a subsequent miss.
func (c *LRU) Put(key string, entry Entry) {
	newSize := entrySize(entry)
	if newSize > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.store.Get(key); ok {
		c.currentSize -= old.size
		c.store.Delete(key)
	}

	for c.currentSize+newSize > c.maxBytes && c.store.Size() > 0 {
		c.evictLRULocked()
	}

	c.stamp++
	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)
	c.store.Set(key, &lruItem{
		data:        data,
		contentType: entry.ContentType,
		createdAt:   entry.CreatedAt,
		size:        newSize,
		stamp:       c.stamp,
	})
	c.currentSize += newSize
}

// evictLRULocked removes the entry with the smallest access stamp.
// Caller must hold c.mu.
func (c *LRU) evictLRULocked() {
	var victimKey string
	var victim *lruItem
	found := false

	c.store.Range(func(key string, item *lruItem) bool {
		if !found || item.stamp < victim.stamp {
			victimKey, victim, found = key, item, true
		}
		return true
	})

	if !found {
		return
	}
	c.store.Delete(victimKey)
	c.currentSize -= victim.size
}

// Delete removes an entry, reporting whether it existed.
func (c *LRU) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.store.Get(key)
	if !ok {
		return false
	}
	c.store.Delete(key)
	c.currentSize -= item.size
	return true
}

// Clear empties the backend.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Clear()
	c.currentSize = 0
}

// Size returns the number of entries currently stored.
func (c *LRU) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Size()
}

// Close releases otter's background resources. Call on shutdown.
func (c *LRU) Close() {
	c.store.Close()
}
