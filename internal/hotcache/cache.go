// Package hotcache holds the most recent known flight list per
// (airport, type) key. It is a fast, overwritable view with TTL expiry;
// historical accumulation is the snapshot store's job.
package hotcache

import (
	"context"
	"log"
	"sync"
	"time"

	"flighthist/internal/flight"
)

// DefaultTTL is how long a hot entry serves reads before a fresh fetch is
// required.
const DefaultTTL = 10 * time.Minute

// Entry is one cached flight list with its fetch time and TTL.
type Entry struct {
	Records   []flight.Record `json:"records"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.FetchedAt.Add(e.TTL))
}

// PersistentBackend mirrors hot entries to durable storage so the cache
// survives process restarts. *storage.SQLiteStore implements it.
type PersistentBackend interface {
	SaveHotEntry(ctx context.Context, key string, records []flight.Record, fetchedAt time.Time, ttl time.Duration) error
	LoadHotEntry(ctx context.Context, key string) ([]flight.Record, time.Time, time.Duration, bool, error)
}

// Cache is an in-memory last-writer-wins TTL map with an optional
// persistent fallback. Expiry is passive: an expired entry simply behaves
// as absent on Get; no background sweep runs.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	persister PersistentBackend // nil = memory only
	now       func() time.Time
}

// New creates an in-memory cache. persister may be nil.
func New(persister PersistentBackend) *Cache {
	return &Cache{
		entries:   make(map[string]Entry),
		persister: persister,
		now:       time.Now,
	}
}

// Get returns the cached records for a key, or ok == false when the key is
// absent or expired.
func (c *Cache) Get(key string) ([]flight.Record, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.Expired(c.now()) {
		return nil, false
	}
	return entry.Records, true
}

// Has reports whether a live (non-expired) entry exists for the key.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set overwrites the entry for a key with a fresh TTL and, when a
// persistent backend is configured, mirrors it to disk. Persistence
// failures are logged, not propagated: the in-memory write already
// succeeded and the cache remains serviceable.
func (c *Cache) Set(key string, records []flight.Record, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()

	c.mu.Lock()
	c.entries[key] = Entry{Records: records, FetchedAt: now, TTL: ttl}
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.SaveHotEntry(context.Background(), key, records, now, ttl); err != nil {
			log.Printf("hotcache: persist %s: %v", key, err)
		}
	}
}

// GetWithPersistent checks memory first, then falls back to the persisted
// form, repopulating memory on a hit. A persisted entry past its TTL is
// treated as absent.
func (c *Cache) GetWithPersistent(ctx context.Context, key string) ([]flight.Record, bool) {
	if records, ok := c.Get(key); ok {
		return records, true
	}
	if c.persister == nil {
		return nil, false
	}

	records, fetchedAt, ttl, ok, err := c.persister.LoadHotEntry(ctx, key)
	if err != nil {
		log.Printf("hotcache: load persisted %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	entry := Entry{Records: records, FetchedAt: fetchedAt, TTL: ttl}
	if entry.Expired(c.now()) {
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	return records, true
}

// Keys returns the keys currently held in memory, live or expired.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
