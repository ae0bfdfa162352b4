// Package cache implements the polymorphic response cache: a no-op
// backend, an in-process byte-budgeted LRU, a persistent object-store
// backend, and a tiered composition of the two with asynchronous L2
// writes. All backends satisfy the same Cache interface so the dispatcher
// never branches on which one it was given.
package cache

import "time"

// Entry is a cached response payload.
type Entry struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Cache is the capability every backend implements: get, put, delete,
// clear, size. Composition (Tiered) over subclassing.
type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry)
	Delete(key string) bool
	Clear()
	Size() int
}
