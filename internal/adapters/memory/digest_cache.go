package memory

import (
	"context"
	"sync"
)

// DigestCache memoizes file digests in process memory. Keys already bind
// size and mtime, so stale entries are simply never asked for again.
type DigestCache struct {
	mu      sync.RWMutex
	digests map[string]string
}

// NewDigestCache creates an empty digest cache.
func NewDigestCache() *DigestCache {
	return &DigestCache{digests: make(map[string]string)}
}

func (c *DigestCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.digests[key], nil
}

func (c *DigestCache) Set(_ context.Context, key, digest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digests[key] = digest
	return nil
}
