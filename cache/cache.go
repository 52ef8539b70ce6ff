// Package cache implements the verification cache: a short-TTL, in-process
// accelerator mapping an access-token reference to its resolved principal.
// It sits in front of the session registry so the per-request fast path
// avoids a durable-store round trip.
//
// The cache is advisory. Entries never outlive the access token they were
// filled for, a hit never overrides the credential-version check, and bulk
// invalidation by identity is proactive on every revoke and version change.
// A miss is not an error; it is the expected trigger for the slow path.
package cache

import (
	"sync"
	"time"
)

// Entry is the resolved principal stored per access-token reference.
// CredentialVersion is the identity's version observed when the entry was
// filled; tokens minted under any other version must not be served by it.
type Entry struct {
	IdentityID        string
	SessionID         string
	CredentialVersion uint32
}

type record struct {
	entry     Entry
	expiresAt time.Time
}

// Cache is safe for concurrent use by any number of goroutines.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]record
	// byIdentity is the reverse index driving InvalidateIdentity: identity
	// id -> set of live cache keys. Maintained at Put, cleared on
	// invalidation and expiry.
	byIdentity map[string]map[string]struct{}

	maxTTL time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache whose entries live at most maxTTL (bounded further
// per entry by the token's own remaining lifetime at Put). sweepInterval
// controls the background sweep that bounds memory growth from
// expired-but-unread entries; zero disables the sweep and leaves only lazy
// deletion on read.
func New(maxTTL, sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]record),
		byIdentity: make(map[string]map[string]struct{}),
		maxTTL:     maxTTL,
		stop:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Close stops the background sweep. Entries remain readable.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Get returns the entry for key, if present and unexpired. Expired entries
// are deleted lazily on read.
func (c *Cache) Get(key string, now time.Time) (Entry, bool) {
	c.mu.RLock()
	rec, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if now.After(rec.expiresAt) {
		c.Invalidate(key)
		return Entry{}, false
	}
	return rec.entry, true
}

// Put stores an entry under key. ttl is capped by the cache-wide maxTTL so
// an entry can never outlive the access token it fronts; non-positive ttl
// stores nothing.
func (c *Cache) Put(key string, entry Entry, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok && old.entry.IdentityID != entry.IdentityID {
		c.unindexLocked(old.entry.IdentityID, key)
	}
	c.entries[key] = record{entry: entry, expiresAt: now.Add(ttl)}

	keys, ok := c.byIdentity[entry.IdentityID]
	if !ok {
		keys = make(map[string]struct{})
		c.byIdentity[entry.IdentityID] = keys
	}
	keys[key] = struct{}{}
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[key]; ok {
		c.unindexLocked(rec.entry.IdentityID, key)
		delete(c.entries, key)
	}
}

// InvalidateIdentity sweeps every entry belonging to an identity. Called on
// every revoke and credential-version change so revoked principals do not
// ride out their TTL.
func (c *Cache) InvalidateIdentity(identityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byIdentity[identityID] {
		delete(c.entries, key)
	}
	delete(c.byIdentity, identityID)
}

// Len reports the number of stored entries, including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) unindexLocked(identityID, key string) {
	keys, ok := c.byIdentity[identityID]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byIdentity, identityID)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, rec := range c.entries {
		if now.After(rec.expiresAt) {
			c.unindexLocked(rec.entry.IdentityID, key)
			delete(c.entries, key)
		}
	}
}
