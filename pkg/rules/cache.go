package rules

import "sync"

// Cache is a process-global rulesHash -> CompiledPermissions index. It is
// safe for concurrent use; concurrent compilations of the same hash may
// duplicate work but converge on the same stored value.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CompiledPermissions
}

// NewCache constructs an empty compiled-rule cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CompiledPermissions)}
}

// defaultCache backs the package-level GetOrCompile/Invalidate helpers used
// by callers that don't need an isolated cache instance (e.g. tests do).
var defaultCache = NewCache()

// GetOrCompile looks up desiredHash (when provided) before compiling. On a
// miss it compiles raw and stores the result under both desiredHash and the
// compiler-computed hash, so a later lookup by either key hits.
func (c *Cache) GetOrCompile(raw []interface{}, desiredHash string) (*CompiledPermissions, error) {
	if desiredHash != "" {
		c.mu.RLock()
		if cp, ok := c.entries[desiredHash]; ok {
			c.mu.RUnlock()
			return cp, nil
		}
		c.mu.RUnlock()
	}

	cp, err := Compile(raw, desiredHash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if desiredHash != "" {
		c.entries[desiredHash] = cp
	}
	c.entries[cp.RulesHash] = cp
	return cp, nil
}

// Invalidate removes every cache entry whose key or compiled rules-hash
// equals rulesHash.
func (c *Cache) Invalidate(rulesHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, rulesHash)
	for k, cp := range c.entries {
		if cp.RulesHash == rulesHash {
			delete(c.entries, k)
		}
	}
}

// GetOrCompile delegates to the package-level default cache.
func GetOrCompile(raw []interface{}, desiredHash string) (*CompiledPermissions, error) {
	return defaultCache.GetOrCompile(raw, desiredHash)
}

// Invalidate delegates to the package-level default cache.
func Invalidate(rulesHash string) {
	defaultCache.Invalidate(rulesHash)
}
