// Package metrics tracks the handful of counters the /metrics route
// reports: request volume and cache hit/miss rates, updated with relaxed
// atomic read-modify-write from any request-handling goroutine.
package metrics

import (
	"sync/atomic"
	"time"
)

// Stats holds the server's lifetime counters.
type Stats struct {
	requestsTotal uint64
	cacheHits     uint64
	cacheMisses   uint64
	startedAt     time.Time
}

// New returns a Stats value stamped with the current time as the
// server's start time.
func New() *Stats {
	return &Stats{startedAt: time.Now()}
}

// IncRequests records one handled request.
func (s *Stats) IncRequests() { atomic.AddUint64(&s.requestsTotal, 1) }

// IncCacheHits records one cache hit.
func (s *Stats) IncCacheHits() { atomic.AddUint64(&s.cacheHits, 1) }

// IncCacheMisses records one cache miss.
func (s *Stats) IncCacheMisses() { atomic.AddUint64(&s.cacheMisses, 1) }

// Snapshot is the /metrics route's JSON body.
type Snapshot struct {
	RequestsTotal uint64 `json:"requestsTotal"`
	CacheHits     uint64 `json:"cacheHits"`
	CacheMisses   uint64 `json:"cacheMisses"`
	CacheEntries  int    `json:"cacheEntries"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// Snapshot reads every counter plus the live cache entry count into one
// consistent-enough-for-monitoring struct. Counters are read
// independently, not under a shared lock: a momentary skew between them
// is acceptable for a metrics endpoint.
func (s *Stats) Snapshot(cacheEntries int) Snapshot {
	return Snapshot{
		RequestsTotal: atomic.LoadUint64(&s.requestsTotal),
		CacheHits:     atomic.LoadUint64(&s.cacheHits),
		CacheMisses:   atomic.LoadUint64(&s.cacheMisses),
		CacheEntries:  cacheEntries,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
}
