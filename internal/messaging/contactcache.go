package messaging

import (
	"context"
	"sync"
)

// ContactCache memoizes contact-name lookups per integration. Process-local,
// cleared on logout, never persisted.
type ContactCache struct {
	mu    sync.RWMutex
	cache map[string][]Contact
}

// NewContactCache creates an empty cache.
func NewContactCache() *ContactCache {
	return &ContactCache{cache: make(map[string][]Contact)}
}

func (c *ContactCache) key(id ID, name string) string {
	return string(id) + "\x00" + name
}

// Resolve returns cached candidates or asks the integration's resolver.
// Integrations without a resolver yield no candidates.
func (c *ContactCache) Resolve(ctx context.Context, integration Integration, name string) ([]Contact, error) {
	k := c.key(integration.ID(), name)

	c.mu.RLock()
	cached, ok := c.cache[k]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resolver, ok := integration.(ContactResolver)
	if !ok {
		return nil, nil
	}

	candidates, err := resolver.ResolveContact(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[k] = candidates
	c.mu.Unlock()

	return candidates, nil
}

// Clear drops all cached lookups.
func (c *ContactCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string][]Contact)
}
