package search

import "sync"

// Cache stores one score per canonical parameter-vector key so each
// distinct vector is evaluated at most once. Safe for concurrent use;
// the parallel sweep serializes writes through the internal mutex.
//
// A disabled cache reports every lookup as absent. This is required
// when the oracle runs its own internal optimizer: the same nominal
// vector can then legitimately score differently between runs, and a
// stale score must never be reused.
type Cache struct {
	mu      sync.Mutex
	enabled bool
	scores  map[string]float64
	hits    int
	misses  int
}

// NewCache creates a result cache. Pass enabled=false to force every
// lookup to miss.
func NewCache(enabled bool) *Cache {
	return &Cache{
		enabled: enabled,
		scores:  make(map[string]float64),
	}
}

// Enabled reports whether lookups can hit.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns the cached score for key, if present.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return 0, false
	}
	score, ok := c.scores[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return score, ok
}

// Put records a score for key. No-op when the cache is disabled.
func (c *Cache) Put(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.scores[key] = score
}

// Hits returns the number of successful lookups so far.
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Len returns the number of cached scores.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scores)
}

// Snapshot copies the cached scores, for checkpointing.
func (c *Cache) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]float64, len(c.scores))
	for k, v := range c.scores {
		snap[k] = v
	}
	return snap
}

// Seed preloads scores, for resuming from a checkpoint. No-op when
// the cache is disabled.
func (c *Cache) Seed(scores map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	for k, v := range scores {
		c.scores[k] = v
	}
}
