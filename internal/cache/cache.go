// Package cache implements the Resolver's hostname-to-addresses cache: a
// single-mutex map with TTL expiry, a size cap, and near-expiry refresh
// marking (see Get).
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Record is the value held by the Cache. The adapters/persist package does
// not use it directly; the Resolver converts it to ports.CacheRecord.
type Record struct {
	Hostname  string
	Addresses []string
	ExpireAt  time.Time
	Valid     bool
}

// Cache maps lowercased hostnames to Records, bounded by a configured
// maximum size. hits/misses are atomic so stats snapshots never need the
// map lock.
type Cache struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an empty Cache with the given default TTL and size cap.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		records: make(map[string]*Record),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func normalize(hostname string) string {
	return strings.ToLower(hostname)
}

// Update inserts or replaces the record for hostname, resetting its TTL.
// It runs cleanup first; if the cache is still at capacity afterward, it
// evicts the single record with the earliest ExpireAt.
func (c *Cache) Update(hostname string, addresses []string) {
	hostname = normalize(hostname)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.records[hostname]; !exists && len(c.records) >= c.maxSize {
		c.evictEarliestLocked()
	}

	addrCopy := append([]string(nil), addresses...)
	c.records[hostname] = &Record{
		Hostname:  hostname,
		Addresses: addrCopy,
		ExpireAt:  time.Now().Add(c.ttl),
		Valid:     true,
	}
}

// Get returns the cached addresses for hostname. A miss (absent, expired, or
// already marked Valid=false) increments misses and removes the entry. A hit
// increments hits; if the record's remaining TTL has dropped under 20% of
// the configured TTL, the record is marked Valid=false so the *next* Get
// treats it as a miss and triggers a refresh, even though this call still
// succeeds (opportunistic refresh).
func (c *Cache) Get(hostname string) ([]string, bool) {
	hostname = normalize(hostname)
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[hostname]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	now := time.Now()
	if !now.Before(rec.ExpireAt) || !rec.Valid {
		delete(c.records, hostname)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	if c.ttl > 0 && rec.ExpireAt.Sub(now) < c.ttl/5 {
		rec.Valid = false
	}
	return append([]string(nil), rec.Addresses...), true
}

// Peek returns the addresses currently stored for hostname without
// affecting hit/miss counters or the near-expiry refresh mark. It is used
// by the Resolver to capture "old" addresses before an Update, which must
// not itself count as a cache lookup.
func (c *Cache) Peek(hostname string) ([]string, bool) {
	hostname = normalize(hostname)
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[hostname]
	if !ok {
		return nil, false
	}
	return append([]string(nil), rec.Addresses...), true
}

// Remove deletes hostname's record, if any.
func (c *Cache) Remove(hostname string) {
	hostname = normalize(hostname)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, hostname)
}

// Clear removes every record.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*Record)
}

// Size returns the current number of records.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Capacity returns the configured maximum size.
func (c *Cache) Capacity() int {
	return c.maxSize
}

// HitRate returns hits/(hits+misses), or 0 if there have been no lookups.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Hits and Misses expose the raw atomic counters for stats snapshots.
func (c *Cache) Hits() int64   { return c.hits.Load() }
func (c *Cache) Misses() int64 { return c.misses.Load() }

// ForEach visits every (hostname, record) pair under the cache lock. fn must
// not re-enter the cache.
func (c *Cache) ForEach(fn func(hostname string, rec Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, rec := range c.records {
		fn(h, *rec)
	}
}

// cleanupLocked removes every expired or invalid entry, then, if the cache
// is still above 90% capacity, additionally removes the oldest-by-ExpireAt
// 20% of the remaining entries (soft high-water eviction).
func (c *Cache) cleanupLocked() {
	now := time.Now()
	for h, rec := range c.records {
		if !now.Before(rec.ExpireAt) || !rec.Valid {
			delete(c.records, h)
		}
	}

	if len(c.records) <= int(float64(c.maxSize)*0.9) {
		return
	}

	entries := make([]expireEntry, 0, len(c.records))
	for h, rec := range c.records {
		entries = append(entries, expireEntry{h, rec.ExpireAt})
	}
	sortByExpireAt(entries)

	trim := int(float64(len(entries)) * 0.2)
	for i := 0; i < trim; i++ {
		delete(c.records, entries[i].hostname)
	}
}

type expireEntry struct {
	hostname string
	expireAt time.Time
}

func sortByExpireAt(entries []expireEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].expireAt.Before(entries[j-1].expireAt); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// evictEarliestLocked removes the single record with the earliest ExpireAt.
// Tie-breaks are arbitrary; map iteration order is unspecified but stable
// enough for correctness since only one record needs to go.
func (c *Cache) evictEarliestLocked() {
	var earliestHost string
	var earliestAt time.Time
	first := true
	for h, rec := range c.records {
		if first || rec.ExpireAt.Before(earliestAt) {
			earliestHost = h
			earliestAt = rec.ExpireAt
			first = false
		}
	}
	if !first {
		delete(c.records, earliestHost)
	}
}
