package client

import (
	"context"
	"sync"
	"time"
)

// URLCache caches signed download URLs per file name so repeated renders of
// the same file do not re-request credentials. Entries expire on the signed
// URL's own schedule, approximated by the configured TTL.
type URLCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]urlCacheEntry
}

type urlCacheEntry struct {
	url       string
	expiresAt time.Time
}

// NewURLCache constructs the cache. A non-positive ttl falls back to the
// signing window used by the server.
func NewURLCache(ttl time.Duration, clock func() time.Time) *URLCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &URLCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]urlCacheEntry),
	}
}

// Lookup returns the cached URL for a file name when present and unexpired.
func (c *URLCache) Lookup(filename string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[filename]
	if !ok {
		return "", false
	}
	if !c.clock().Before(entry.expiresAt) {
		delete(c.entries, filename)
		return "", false
	}
	return entry.url, true
}

// Store records a signed URL for a file name.
func (c *URLCache) Store(filename, signedURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[filename] = urlCacheEntry{
		url:       signedURL,
		expiresAt: c.clock().Add(c.ttl),
	}
}

// Resolve returns the cached URL for a file name, calling fetch and caching
// the result on a miss.
func (c *URLCache) Resolve(ctx context.Context, filename string, fetch func(context.Context, string) (string, error)) (string, error) {
	if cached, ok := c.Lookup(filename); ok {
		return cached, nil
	}
	signedURL, err := fetch(ctx, filename)
	if err != nil {
		return "", err
	}
	c.Store(filename, signedURL)
	return signedURL, nil
}
