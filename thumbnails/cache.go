package thumbnails

import (
	"strconv"
	"sync"
	"time"

	"github.com/ebogdum/cloudfs/metrics"
)

// cacheEntry represents a rendered thumbnail with expiration
type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e *cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache keeps rendered thumbnails in memory with a TTL and an entry bound. Keys embed
// the file's update time, so a content change misses naturally.
type Cache struct {
	entries  map[string]*cacheEntry
	mu       sync.RWMutex
	ttl      time.Duration
	maxSize  int
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCache creates a cache holding at most maxSize thumbnails for ttl each. A
// maxSize of zero or less disables caching.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	if maxSize > 0 && ttl > 0 {
		go c.cleanupExpiredEntries(cleanupInterval(ttl))
	}

	return c
}

// CacheKey derives the cache key for a file version
func CacheKey(path string, updatedAt time.Time) string {
	return path + "@" + strconv.FormatInt(updatedAt.UnixNano(), 10)
}

// Get returns a cached thumbnail
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now()) {
		metrics.ThumbnailCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.ThumbnailCacheTotal.WithLabelValues("hit").Inc()
	return entry.data, true
}

// Set stores a thumbnail
func (c *Cache) Set(key string, data []byte) {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOneEntry()
	}

	c.entries[key] = &cacheEntry{
		data:      data,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Len returns the number of cached thumbnails, expired or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop ends the cleanup goroutine
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// evictOneEntry drops an expired entry if there is one, else the entry closest to
// expiry (caller must hold lock)
func (c *Cache) evictOneEntry() {
	now := c.now()

	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
			return
		}
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) cleanupExpiredEntries(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performCleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache) performCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
		}
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}
