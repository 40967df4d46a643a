package intelligence

import (
	"sync"
	"time"
)

const classificationCacheTTL = 300 * time.Second

type cacheKey struct {
	prefix string
	domain Domain
}

type cacheEntry struct {
	classification Classification
	expiresAt      time.Time
}

// ClassificationCache memoizes classifications keyed by the first 100
// characters of content plus the domain hint the caller passes in, per
// §4.2's cache contract, with a fixed 300s TTL.
type ClassificationCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewClassificationCache builds an empty cache.
func NewClassificationCache() *ClassificationCache {
	return &ClassificationCache{entries: map[cacheKey]cacheEntry{}}
}

func keyFor(content string, domain Domain) cacheKey {
	prefix := content
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	return cacheKey{prefix: prefix, domain: domain}
}

// Get returns the cached classification for (content, domain) if
// present and not expired.
func (c *ClassificationCache) Get(content string, domain Domain) (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyFor(content, domain)
	entry, ok := c.entries[k]
	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			delete(c.entries, k)
		}
		return Classification{}, false
	}
	return entry.classification, true
}

// Put stores classification under (content, domain) with the fixed TTL.
func (c *ClassificationCache) Put(content string, domain Domain, classification Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyFor(content, domain)] = cacheEntry{
		classification: classification,
		expiresAt:      time.Now().Add(classificationCacheTTL),
	}
}
