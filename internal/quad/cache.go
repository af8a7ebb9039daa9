package quad

import "sync"

// Cache memoizes canonical Gauss-Legendre rules by point count.
// Rules for a given count never change, so entries are populated
// lazily and never invalidated. Safe for concurrent use; a race on
// first computation may duplicate work but never corrupts the cache.
type Cache struct {
	mu    sync.RWMutex
	rules map[int]*Rule
}

func NewCache() *Cache {
	return &Cache{rules: make(map[int]*Rule)}
}

// Get returns the cached n-point rule, computing it on first use.
// Callers must not modify the returned rule.
func (c *Cache) Get(n int) (*Rule, error) {
	c.mu.RLock()
	r, ok := c.rules[n]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := GaussLegendre(n)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.rules[n]; ok {
		return prev, nil
	}
	c.rules[n] = r
	return r, nil
}

// Len reports the number of cached rules.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}
