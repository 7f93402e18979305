package nfc

import (
	"crypto/sha256"
	"sync"
	"time"
)

// DefaultRemovalGrace is how long a tag may go undetected before it is
// reported as removed. Readers miss a tag on the odd poll.
const DefaultRemovalGrace = time.Second

type cacheEntry struct {
	hash     [sha256.Size]byte
	lastSeen time.Time
}

// TagCache remembers which tags are in the field and what they carried,
// so a tag left on the reader is reported once. It is safe for concurrent
// use.
type TagCache struct {
	entries map[string]*cacheEntry
	lastUID string
	grace   time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewTagCache creates an empty cache with DefaultRemovalGrace.
func NewTagCache() *TagCache {
	return &TagCache{
		entries: make(map[string]*cacheEntry),
		grace:   DefaultRemovalGrace,
		now:     time.Now,
	}
}

// SetGrace changes the removal grace.
func (c *TagCache) SetGrace(d time.Duration) {
	c.mu.Lock()
	c.grace = d
	c.mu.Unlock()
}

// HasChanged records that uid was seen carrying data and reports whether
// this is a new tag or new content for a known one.
func (c *TagCache) HasChanged(uid string, data []byte) bool {
	hash := sha256.Sum256(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, exists := c.entries[uid]
	if !exists {
		c.entries[uid] = &cacheEntry{hash: hash, lastSeen: now}
		c.lastUID = uid
		return true
	}
	e.lastSeen = now
	if e.hash != hash {
		e.hash = hash
		c.lastUID = uid
		return true
	}
	return false
}

// Touch refreshes the presence of uid without comparing content.
func (c *TagCache) Touch(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uid]; ok {
		e.lastSeen = c.now()
	}
}

// Sweep forgets every tag not seen within the removal grace and returns
// their UIDs.
func (c *TagCache) Sweep() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed []string
	for uid, e := range c.entries {
		if now.Sub(e.lastSeen) >= c.grace {
			delete(c.entries, uid)
			removed = append(removed, uid)
			if c.lastUID == uid {
				c.lastUID = ""
			}
		}
	}
	return removed
}

// IsPresent reports whether uid is currently tracked.
func (c *TagCache) IsPresent(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[uid]
	return ok
}

// Len returns the number of tracked tags.
func (c *TagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastScanned returns the UID of the most recently new or changed tag.
func (c *TagCache) LastScanned() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUID
}

// Clear forgets every tag.
func (c *TagCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.lastUID = ""
	c.mu.Unlock()
}
