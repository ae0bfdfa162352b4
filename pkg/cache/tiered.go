package cache

import "golang.org/x/sync/errgroup"

// Tiered composes a fast L1 and a slow L2 cache, with asynchronous L2
// writes dispatched to an optional worker pool and L2-to-L1 promotion on
// read.
type Tiered struct {
	l1   Cache
	l2   Cache
	pool *Pool
}

// NewTiered composes l1 over l2. pool may be nil, in which case L2 writes
// happen synchronously on the calling goroutine.
func NewTiered(l1, l2 Cache, pool *Pool) *Tiered {
	return &Tiered{l1: l1, l2: l2, pool: pool}
}

// Get checks L1 first; on an L1 miss it checks L2 and, on an L2 hit,
// synchronously promotes the entry into L1 before returning it.
func (t *Tiered) Get(key string) (Entry, bool) {
	if e, ok := t.l1.Get(key); ok {
		return e, true
	}
	if e, ok := t.l2.Get(key); ok {
		t.l1.Put(key, e)
		return e, true
	}
	return Entry{}, false
}

// Put writes through to L1 synchronously. The L2 write is scheduled on
// the pool when one is configured; if the pool's queue is full the write
// is dropped rather than blocking the caller. Without a pool, L2 is
// written synchronously.
func (t *Tiered) Put(key string, entry Entry) {
	t.l1.Put(key, entry)

	if t.pool == nil {
		t.l2.Put(key, entry)
		return
	}

	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)
	copied := Entry{Data: data, ContentType: entry.ContentType, CreatedAt: entry.CreatedAt}
	t.pool.TrySubmit(func() {
		t.l2.Put(key, copied)
	})
}

// Delete removes the entry from both tiers, never short-circuiting on the
// first result, and reports whether either tier had it.
func (t *Tiered) Delete(key string) bool {
	var l1Found, l2Found bool
	var g errgroup.Group

	g.Go(func() error {
		l1Found = t.l1.Delete(key)
		return nil
	})
	g.Go(func() error {
		l2Found = t.l2.Delete(key)
		return nil
	})
	_ = g.Wait()

	return l1Found || l2Found
}

// Clear empties both tiers concurrently.
func (t *Tiered) Clear() {
	var g errgroup.Group
	g.Go(func() error {
		t.l1.Clear()
		return nil
	})
	g.Go(func() error {
		t.l2.Clear()
		return nil
	})
	_ = g.Wait()
}

// Size reports the L1 entry count; L2 is the untracked slow path.
func (t *Tiered) Size() int {
	return t.l1.Size()
}
