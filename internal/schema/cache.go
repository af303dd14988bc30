package schema

import (
	"fmt"
	"sync"
)

// DefaultCacheSize bounds a Cache created with a non-positive size.
const DefaultCacheSize = 256

// Cache memoizes compiled schemas keyed by the canonical JSON encoding of
// their description. Compilation is pure, so sharing results is safe.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*Schema
}

// NewCache creates a cache holding at most maxEntries schemas. When full the
// cache is emptied and refilled.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &Cache{max: maxEntries, entries: make(map[string]*Schema)}
}

// Compile returns the cached schema for description, compiling it on a miss.
// Failed compilations are not cached.
func (c *Cache) Compile(description any) (*Schema, error) {
	normalized, err := normalize(description)
	if err != nil {
		return nil, &UnsupportedConstructError{Path: "#", Reason: err.Error()}
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, &UnsupportedConstructError{Path: "#", Reason: fmt.Sprintf("description cannot be encoded: %v", err)}
	}
	key := string(raw)

	c.mu.Lock()
	if s, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := compileNode(normalized, "#")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.entries = make(map[string]*Schema)
	}
	c.entries[key] = s
	return s, nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
